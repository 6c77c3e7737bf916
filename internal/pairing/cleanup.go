// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package pairing

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/toeirei/pairmaster/internal/logging"
)

var (
	// Managers whose sessions must be released on interrupt.
	activeManagers = make(map[*Manager]struct{})
	managersMutex  sync.Mutex

	signalHandlerInstalled bool
	signalHandlerMutex     sync.Mutex

	exitFunc = os.Exit
)

func register(m *Manager) {
	managersMutex.Lock()
	defer managersMutex.Unlock()
	activeManagers[m] = struct{}{}
}

func unregister(m *Manager) {
	managersMutex.Lock()
	defer managersMutex.Unlock()
	delete(activeManagers, m)
}

// InstallSignalHandler abandons all sessions on SIGINT/SIGTERM so channels
// and the bridge slot are released before the process exits. Repeated calls
// are ignored.
func InstallSignalHandler() {
	signalHandlerMutex.Lock()
	defer signalHandlerMutex.Unlock()
	if signalHandlerInstalled {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Warnf("pairing: received %s, abandoning active sessions", sig)
		_ = CleanupAllActiveSessions()
		exitFunc(130)
	}()
	signalHandlerInstalled = true
}

// CleanupAllActiveSessions abandons the sessions of every live manager.
func CleanupAllActiveSessions() error {
	managersMutex.Lock()
	managers := make([]*Manager, 0, len(activeManagers))
	for m := range activeManagers {
		managers = append(managers, m)
	}
	managersMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var lastErr error
	for _, m := range managers {
		if err := m.CancelAll(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
