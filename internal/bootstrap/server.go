package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/toeirei/pairmaster/internal/logging"
)

// PackageServer serves the companion package for the browser fallback.
type PackageServer struct {
	srv  *http.Server
	ln   net.Listener
	name string
}

// StartPackageServer listens on addr and serves pkgPath under its base name.
func StartPackageServer(addr, pkgPath string) (*PackageServer, error) {
	if _, err := os.Stat(pkgPath); err != nil {
		return nil, fmt.Errorf("bootstrap: package: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: package server: %w", err)
	}
	name := filepath.Base(pkgPath)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+name, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.android.package-archive")
		http.ServeFile(w, r, pkgPath)
	})
	p := &PackageServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:   ln,
		name: name,
	}
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warnf("bootstrap: package server stopped: %v", err)
		}
	}()
	logging.Infof("bootstrap: serving %s on %s", name, ln.Addr())
	return p, nil
}

// Port is the bound TCP port.
func (p *PackageServer) Port() int { return p.ln.Addr().(*net.TCPAddr).Port }

// URL is the download URL as seen from host.
func (p *PackageServer) URL(host string) string {
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(host, fmt.Sprint(p.Port())), p.name)
}

func (p *PackageServer) Close(ctx context.Context) error { return p.srv.Shutdown(ctx) }
