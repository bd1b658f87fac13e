package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/unionfs-tools/mergerd/internal/driver"
)

type mountHandler struct {
	driver *driver.Driver
}

// statusResponse is the envelope for mutating operations: exactly one
// of success-with-message or ok=false with the failure cause.
type statusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// entryView is the JSON shape of one mount in list/get responses
type entryView struct {
	DestPath  string   `json:"dest_path"`
	Branches  []string `json:"branches"`
	Mounted   bool     `json:"mounted"`
	MountOpts string   `json:"mount_opts"`
	CreatedAt string   `json:"created_at"`
}

type listResponse struct {
	OK      bool        `json:"ok"`
	Entries []entryView `json:"entries"`
}

type getResponse struct {
	OK    bool       `json:"ok"`
	Found bool       `json:"found"`
	Entry *entryView `json:"entry,omitempty"`
}

type orphanView struct {
	Source     string `json:"source"`
	MountPoint string `json:"mount_point"`
	Options    string `json:"options"`
}

type orphansResponse struct {
	OK      bool         `json:"ok"`
	Orphans []orphanView `json:"orphans"`
}

type createRequest struct {
	DestPath          string   `json:"dest_path"`
	Branches          []string `json:"branches"`
	AllowForceUnmount bool     `json:"allow_force_unmount"`
	Options           string   `json:"options"`
}

func (h *mountHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: "invalid request body: " + err.Error()})
		return
	}

	if err := h.driver.Create(r.Context(), req.DestPath, req.Branches, req.AllowForceUnmount, req.Options); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Message: "mounted"})
}

func (h *mountHandler) remove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	recursive := boolParam(q.Get("recursive"))
	force := boolParam(q.Get("force"))

	if err := h.driver.Remove(r.Context(), path, recursive, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Message: "unmounted and removed from registry"})
}

func (h *mountHandler) list(w http.ResponseWriter, _ *http.Request) {
	statuses, err := h.driver.List()
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]entryView, 0, len(statuses))
	for _, s := range statuses {
		entries = append(entries, viewOf(s))
	}
	writeJSON(w, http.StatusOK, listResponse{OK: true, Entries: entries})
}

func (h *mountHandler) get(w http.ResponseWriter, r *http.Request) {
	status, err := h.driver.Get(r.URL.Query().Get("path"))
	if err != nil {
		var nf *driver.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusOK, getResponse{OK: true, Found: false})
			return
		}
		writeError(w, err)
		return
	}

	view := viewOf(*status)
	writeJSON(w, http.StatusOK, getResponse{OK: true, Found: true, Entry: &view})
}

func (h *mountHandler) orphans(w http.ResponseWriter, _ *http.Request) {
	orphans, err := h.driver.Orphans()
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]orphanView, 0, len(orphans))
	for _, o := range orphans {
		views = append(views, orphanView{
			Source:     o.Device,
			MountPoint: o.MountPoint,
			Options:    o.Options,
		})
	}
	writeJSON(w, http.StatusOK, orphansResponse{OK: true, Orphans: views})
}

func viewOf(s driver.MountStatus) entryView {
	return entryView{
		DestPath:  s.DestPath,
		Branches:  s.Branches,
		Mounted:   s.Mounted,
		MountOpts: s.MountOpts,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func boolParam(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the driver's error taxonomy to HTTP statuses. No
// failure terminates the process; everything becomes a structured
// ok=false response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), statusResponse{Message: err.Error()})
}

func statusFor(err error) int {
	var (
		ve *driver.ValidationError
		ce *driver.ConflictError
		nf *driver.NotFoundError
		me *driver.MountError
		ue *driver.UnmountError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &me), errors.As(err, &ue):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
