// Package server exposes the mount manager over an HTTP/JSON API
// protected by mutual TLS.
package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/unionfs-tools/mergerd/internal/log"
)

// TLSFiles points at the PEM material for the mutual-TLS listener
type TLSFiles struct {
	// CertFile is the server certificate
	CertFile string
	// KeyFile is the server private key
	KeyFile string
	// ClientCAFile is the CA bundle client certificates must chain to
	ClientCAFile string
}

// NewTLSConfig builds a server TLS configuration that requires and
// verifies a client certificate on every connection
func NewTLSConfig(files TLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	caPEM, err := os.ReadFile(files.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", files.ClientCAFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Serve runs the API server on addr until it fails or the process
// exits
func Serve(addr string, tlsConf *tls.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("listening", "addr", addr)
	return srv.ListenAndServeTLS("", "")
}
