// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bootstrap installs and starts the companion app on USB devices.
//
// Installation pushes the package through the bridge. When the device
// refuses it by policy, the package is offered for a manual install in the
// device browser instead.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
)

// DefaultPackageName is the companion app's Android package.
const DefaultPackageName = "cz.xoft.deskemes"

// DefaultFallbackURL is opened on the device when no package server runs.
const DefaultFallbackURL = "https://github.com/toeirei/pairmaster/releases/latest"

// exitPolicyBlocked is the bridge exit status for a refused install.
const exitPolicyBlocked = 3

// policyMarkers are install failure codes that a device setting causes.
var policyMarkers = []string{
	"INSTALL_FAILED_USER_RESTRICTED",
	"INSTALL_FAILED_VERIFICATION_FAILURE",
	"INSTALL_FAILED_UNKNOWN_SOURCES",
}

// Bridge is the part of the bridge supervisor the installer needs.
type Bridge interface {
	Exec(ctx context.Context, args ...string) (bridge.ExecResult, error)
	Shell(ctx context.Context, serial, command string) ([]byte, error)
	Reverse(ctx context.Context, serial string, devicePort, localPort int) error
}

// Config locates the package and the fallback paths.
type Config struct {
	PackagePath string
	PackageName string
	FallbackURL string
	// ServeAddr enables the package server for the browser fallback,
	// e.g. "127.0.0.1:0".
	ServeAddr string
}

// Installer implements the app bootstrap for USB candidates.
type Installer struct {
	cfg    Config
	bridge Bridge
	audit  db.AuditWriter

	mu     sync.Mutex
	server *PackageServer
}

// NewInstaller returns an installer. audit may be nil.
func NewInstaller(cfg Config, b Bridge, audit db.AuditWriter) *Installer {
	if cfg.PackageName == "" {
		cfg.PackageName = DefaultPackageName
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	return &Installer{cfg: cfg, bridge: b, audit: audit}
}

// Install pushes the companion package to c. The returned *InstallError
// holds the bridge output verbatim; for PolicyBlocked it also names the
// fallback URL that was opened on the device.
func (i *Installer) Install(ctx context.Context, c model.DeviceCandidate) error {
	if c.Transport != model.TransportUSB {
		return ErrNotUSB
	}
	if i.cfg.PackagePath == "" {
		return &InstallError{Kind: PushFailed, Message: ErrNoPackage.Error(), Err: ErrNoPackage}
	}
	serial := c.Address

	res, err := i.bridge.Exec(ctx, "-s", serial, "install", "-r", i.cfg.PackagePath)
	if err != nil {
		_ = i.logAction("INSTALL_APP_FAILED", fmt.Sprintf("serial=%s reason=%v", serial, err))
		return &InstallError{Kind: PushFailed, Message: err.Error(), Err: err}
	}
	if res.ExitCode == 0 && !strings.Contains(res.Stdout, "Failure [") {
		logging.Infof("bootstrap: installed %s on %s", i.cfg.PackageName, serial)
		_ = i.logAction("INSTALL_APP", fmt.Sprintf("serial=%s package=%s", serial, i.cfg.PackageName))
		return nil
	}

	ie := &InstallError{Kind: PushFailed, Message: bridgeMessage(res), ExitCode: res.ExitCode}
	if isPolicyBlocked(res) {
		ie.Kind = PolicyBlocked
		url, ferr := i.OpenFallback(ctx, serial)
		if ferr != nil {
			logging.Warnf("bootstrap: browser fallback on %s failed: %v", serial, ferr)
		}
		ie.Fallback = url
	}
	_ = i.logAction("INSTALL_APP_FAILED", fmt.Sprintf("serial=%s kind=%s exit=%d", serial, ie.Kind, res.ExitCode))
	return ie
}

func bridgeMessage(res bridge.ExecResult) string {
	return "The bridge reported an error:\n" + strings.TrimRight(res.Stderr, "\n") + "\n" + strings.TrimRight(res.Stdout, "\n")
}

func isPolicyBlocked(res bridge.ExecResult) bool {
	if res.ExitCode == exitPolicyBlocked {
		return true
	}
	out := res.Stdout + res.Stderr
	for _, m := range policyMarkers {
		if strings.Contains(out, m) {
			return true
		}
	}
	return false
}

// OpenFallback opens the manual-install page in the device browser. With a
// package server configured the device downloads the package from this
// host through a reverse port forward; otherwise FallbackURL is used.
func (i *Installer) OpenFallback(ctx context.Context, serial string) (string, error) {
	url := i.cfg.FallbackURL
	if i.cfg.ServeAddr != "" && i.cfg.PackagePath != "" {
		srv, err := i.packageServer()
		if err != nil {
			return url, err
		}
		port := srv.Port()
		if err := i.bridge.Reverse(ctx, serial, port, port); err != nil {
			return url, err
		}
		url = srv.URL("127.0.0.1")
	}
	out, err := i.bridge.Shell(ctx, serial, fmt.Sprintf("am start -a android.intent.action.VIEW -d '%s'", url))
	if err != nil {
		return url, err
	}
	if strings.Contains(string(out), "Error") {
		return url, fmt.Errorf("bootstrap: activity manager: %s", strings.TrimSpace(string(out)))
	}
	return url, nil
}

func (i *Installer) packageServer() (*PackageServer, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.server != nil {
		return i.server, nil
	}
	srv, err := StartPackageServer(i.cfg.ServeAddr, i.cfg.PackagePath)
	if err != nil {
		return nil, err
	}
	i.server = srv
	return srv, nil
}

// IsInstalled asks the device package manager for the app.
func (i *Installer) IsInstalled(ctx context.Context, serial string) (bool, error) {
	out, err := i.bridge.Shell(ctx, serial, "pm path "+i.cfg.PackageName)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "package:"), nil
}

// StartApp starts the app's local connection service listening on
// devicePort, which the USB channel then reaches through the bridge.
func (i *Installer) StartApp(ctx context.Context, serial string, devicePort int) error {
	cmd := fmt.Sprintf("am startservice -n %s/.LocalConnectService --ei LocalPort %d", i.cfg.PackageName, devicePort)
	out, err := i.bridge.Shell(ctx, serial, cmd)
	if err != nil {
		return err
	}
	if strings.Contains(string(out), "Error") {
		return fmt.Errorf("bootstrap: start app: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Close stops the package server if it was started.
func (i *Installer) Close(ctx context.Context) error {
	i.mu.Lock()
	srv := i.server
	i.server = nil
	i.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close(ctx)
}
