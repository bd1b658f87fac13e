package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/unionfs-tools/mergerd/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "mergerctl",
		Usage:   "Administer mergerfs union mounts through a mergerd daemon",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Daemon address",
				Value: "localhost:50051",
			},
			&cli.StringFlag{
				Name:  "ca",
				Usage: "CA certificate to verify the daemon",
				Value: "./cert/ca.crt",
			},
			&cli.StringFlag{
				Name:  "cert",
				Usage: "Client certificate",
				Value: "./cert/client.crt",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Client private key",
				Value: "./cert/client.key",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a union mount",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest", Usage: "Destination path", Required: true},
					&cli.StringSliceFlag{Name: "src", Usage: "Source branch (repeatable, precedence order)", Required: true},
					&cli.BoolFlag{Name: "force", Usage: "Forcibly unmount an existing mount first"},
					&cli.StringFlag{Name: "options", Usage: "Extra mergerfs options"},
				},
				Action: runCreate,
			},
			{
				Name:  "remove",
				Usage: "Unmount and deregister a mount",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest", Usage: "Destination path", Required: true},
					&cli.BoolFlag{Name: "recursive", Usage: "Also drop registry entries under the destination"},
					&cli.BoolFlag{Name: "force", Usage: "Fall back to a forced, lazy unmount"},
				},
				Action: runRemove,
			},
			{
				Name:   "list",
				Usage:  "List registered mounts with live status",
				Action: runList,
			},
			{
				Name:  "get",
				Usage: "Show one registered mount",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest", Usage: "Destination path", Required: true},
				},
				Action: runGet,
			},
			{
				Name:   "orphans",
				Usage:  "Show live union mounts with no registry entry",
				Action: runOrphans,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// apiClient talks to the daemon with mutual TLS
type apiClient struct {
	http    *http.Client
	baseURL string
}

func newClient(cmd *cli.Command) (*apiClient, error) {
	cert, err := tls.LoadX509KeyPair(cmd.String("cert"), cmd.String("key"))
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(cmd.String("ca"))
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", cmd.String("ca"))
	}

	return &apiClient{
		http: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs:      pool,
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			},
		},
		baseURL: "https://" + cmd.String("addr"),
	}, nil
}

type statusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type entryView struct {
	DestPath  string   `json:"dest_path"`
	Branches  []string `json:"branches"`
	Mounted   bool     `json:"mounted"`
	MountOpts string   `json:"mount_opts"`
	CreatedAt string   `json:"created_at"`
}

func (c *apiClient) do(method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func runCreate(_ context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	var resp statusResponse
	err = client.do(http.MethodPost, "/api/v1/mounts", nil, map[string]any{
		"dest_path":           cmd.String("dest"),
		"branches":            cmd.StringSlice("src"),
		"allow_force_unmount": cmd.Bool("force"),
		"options":             cmd.String("options"),
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("OK: %v msg: %s\n", resp.OK, resp.Message)
	if !resp.OK {
		return cli.Exit("", 1)
	}
	return nil
}

func runRemove(_ context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("path", cmd.String("dest"))
	q.Set("recursive", strconv.FormatBool(cmd.Bool("recursive")))
	q.Set("force", strconv.FormatBool(cmd.Bool("force")))

	var resp statusResponse
	if err := client.do(http.MethodDelete, "/api/v1/mounts", q, nil, &resp); err != nil {
		return err
	}

	fmt.Printf("OK: %v msg: %s\n", resp.OK, resp.Message)
	if !resp.OK {
		return cli.Exit("", 1)
	}
	return nil
}

func runList(_ context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	var resp struct {
		OK      bool        `json:"ok"`
		Entries []entryView `json:"entries"`
	}
	if err := client.do(http.MethodGet, "/api/v1/mounts", nil, nil, &resp); err != nil {
		return err
	}

	for _, e := range resp.Entries {
		fmt.Printf("%s mounted=%v branches=%s\n", e.DestPath, e.Mounted, strings.Join(e.Branches, ","))
	}
	return nil
}

func runGet(_ context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("path", cmd.String("dest"))

	var resp struct {
		OK    bool       `json:"ok"`
		Found bool       `json:"found"`
		Entry *entryView `json:"entry"`
	}
	if err := client.do(http.MethodGet, "/api/v1/mounts/show", q, nil, &resp); err != nil {
		return err
	}

	if !resp.Found || resp.Entry == nil {
		fmt.Println("Not found")
		return cli.Exit("", 1)
	}

	e := resp.Entry
	fmt.Printf("Mount point: %s\n", e.DestPath)
	fmt.Printf("Mounted: %v\n", e.Mounted)
	fmt.Printf("Sources: %s\n", strings.Join(e.Branches, ","))
	fmt.Printf("Options: %s\n", e.MountOpts)
	fmt.Printf("Created: %s\n", e.CreatedAt)
	return nil
}

func runOrphans(_ context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	var resp struct {
		OK      bool `json:"ok"`
		Orphans []struct {
			Source     string `json:"source"`
			MountPoint string `json:"mount_point"`
			Options    string `json:"options"`
		} `json:"orphans"`
	}
	if err := client.do(http.MethodGet, "/api/v1/mounts/orphans", nil, nil, &resp); err != nil {
		return err
	}

	for _, o := range resp.Orphans {
		fmt.Printf("%s on %s (%s)\n", o.Source, o.MountPoint, o.Options)
	}
	return nil
}
