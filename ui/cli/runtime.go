// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/toeirei/pairmaster/internal/bootstrap"
	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/config"
	"github.com/toeirei/pairmaster/internal/engine"
	"github.com/toeirei/pairmaster/internal/model"
)

// engineRun is a running engine plus the bridge it owns.
type engineRun struct {
	eng    *engine.Engine
	bridge *bridge.Supervisor
	cancel context.CancelFunc
	done   chan error
}

func engineConfig(c config.Config, publicID string) engine.Config {
	return engine.Config{
		PublicID:       []byte(publicID),
		FriendlyName:   c.Identity.FriendlyName,
		ScanInterval:   c.Discovery.Interval,
		DebounceMisses: c.Discovery.DebounceMisses,
		LAN:            len(c.Discovery.UDPPorts) > 0,
		UDPPorts:       c.Discovery.UDPPorts,
		BeaconRate:     c.Discovery.BeaconRate,
		Broadcast:      c.Discovery.Broadcast,
		Bluetooth:      c.Discovery.Bluetooth,
		DevicePort:     c.Pairing.DevicePort,
		PeerKeyTimeout: c.Pairing.PeerKeyTimeout,
		Install: bootstrap.Config{
			PackagePath: c.Install.PackagePath,
			PackageName: c.Install.PackageName,
			FallbackURL: c.Install.FallbackURL,
			ServeAddr:   c.Install.ServeAddr,
		},
	}
}

func bridgeConfig(c config.Config) bridge.Config {
	return bridge.Config{
		Path:           c.Bridge.Path,
		Port:           c.Bridge.Port,
		Spawn:          c.Bridge.Spawn,
		StartTimeout:   c.Bridge.StartTimeout,
		RequestTimeout: c.Bridge.RequestTimeout,
	}
}

// startRuntime builds the engine from appConfig and runs it in the
// background. A bridge that cannot be reached only disables USB.
func startRuntime(ctx context.Context) (*engineRun, error) {
	publicID, err := config.EnsurePublicID(&appConfig)
	if err != nil {
		return nil, err
	}

	var opts []engine.Option
	sup := bridge.New(bridgeConfig(appConfig))
	if err := sup.EnsureRunning(ctx); err != nil {
		log.Warnf("USB discovery disabled: %v", err)
		sup = nil
	} else {
		opts = append(opts, engine.WithBridge(sup))
	}

	eng := engine.New(engineConfig(appConfig, publicID), store, opts...)
	runCtx, cancel := context.WithCancel(ctx)
	rt := &engineRun{eng: eng, bridge: sup, cancel: cancel, done: make(chan error, 1)}
	go func() { rt.done <- eng.Run(runCtx) }()
	go rt.logDiagnostics(runCtx)
	return rt, nil
}

func (rt *engineRun) logDiagnostics(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-rt.eng.Diagnostics():
			log.Warn(d.Remedy, "component", d.Component)
		}
	}
}

// Stop abandons open sessions and waits for the engine to exit.
func (rt *engineRun) Stop() error {
	err := rt.eng.Close()
	rt.cancel()
	if rerr := <-rt.done; rerr != nil && err == nil {
		err = rerr
	}
	if rt.bridge != nil {
		if berr := rt.bridge.Stop(); berr != nil {
			log.Debugf("bridge stop: %v", berr)
		}
	}
	return err
}

// waitForDevice polls the registry until key shows up or timeout passes.
func waitForDevice(ctx context.Context, eng *engine.Engine, key string, timeout time.Duration) (model.RegistryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		if e, ok := findEntry(eng.Current(), key); ok && e.Reachable() {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return model.RegistryEntry{}, fmt.Errorf("device %q not found within %s", key, timeout)
		case <-eng.Entries():
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// findEntry matches the full key, a unique key prefix or a device name.
func findEntry(entries []model.RegistryEntry, key string) (model.RegistryEntry, bool) {
	var match []model.RegistryEntry
	for _, e := range entries {
		switch {
		case e.Key == key:
			return e, true
		case len(key) >= 6 && len(e.Key) > len(key) && e.Key[:len(key)] == key:
			match = append(match, e)
		case e.Name != "" && e.Name == key:
			match = append(match, e)
		}
	}
	if len(match) == 1 {
		return match[0], true
	}
	return model.RegistryEntry{}, false
}
