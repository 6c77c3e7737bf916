// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, configuration loading and the shared
// services (trust store, logging, i18n) used by every subcommand.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/config"
	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/pairing"
)

var cfgFile string
var verbose bool

var appConfig config.Config

// store is opened by setupDefaultServices and closed after the command ran.
var store db.Store

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	if store != nil {
		// Left open by a failed earlier command in the same process.
		_ = store.Close()
		store = nil
	}
	explicit, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	if err := loadAppConfig(cmd, explicit); err != nil {
		return err
	}
	if explicit == nil {
		writeDefaultConfig()
	}
	applyLogLevel(appConfig.Log.Level)
	i18n.Init(appConfig.Language)

	s, err := db.New(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return fmt.Errorf("could not open trust store: %w", err)
	}
	store = s
	return nil
}

func loadAppConfig(cmd *cobra.Command, explicit *string) error {
	c, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
	if err != nil {
		if strings.Contains(err.Error(), "control characters are not allowed") {
			log.Errorf("The config appears to be invalid (parse error): %v", err)
		}
		return fmt.Errorf("error loading config: %w", err)
	}
	appConfig = c
	return nil
}

// writeDefaultConfig creates the user config on first run so operators have
// a file to edit.
func writeDefaultConfig() {
	path, err := config.GetConfigPath(false)
	if err != nil {
		return
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := config.WriteConfigFile(&appConfig, false); err != nil {
		log.Warnf("Warning: could not write default config file: %v", err)
		return
	}
	log.Debugf("Wrote default config to %s", path)
}

// applyLogLevel sets both the library logger and the CLI logger. --verbose
// wins over the configured level and also enables SQL debug output.
func applyLogLevel(level string) {
	if verbose {
		level = "debug"
		db.SetDebug(true)
	}
	if err := logging.SetLevel(level); err != nil {
		log.Warnf("%v", err)
	}
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
}

func closeServices(cmd *cobra.Command, args []string) error {
	if store == nil {
		return nil
	}
	err := store.Close()
	store = nil
	return err
}

// Execute runs the CLI entrypoint. The main package should call this
// function and handle process exit.
func Execute() error {
	// Abandon pairing sessions on SIGINT/SIGTERM so device channels and the
	// bridge slot are released.
	pairing.InstallSignalHandler()
	defer func() {
		if err := pairing.CleanupAllActiveSessions(); err != nil {
			log.Errorf("Error during final cleanup: %v", err)
		}
	}()

	return NewRootCmd().Execute()
}

func applyDefaultFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	for _, f := range []struct{ name, def, usage string }{
		{"database.type", "sqlite", "Trust store type (sqlite, postgres, mysql)"},
		{"database.dsn", "./pairmaster.db", "Trust store connection string (DSN)"},
		{"bridge.path", "adb", "Path of the USB bridge executable"},
		{"language", "en", "Message language"},
	} {
		if flags.Lookup(f.name) == nil {
			flags.String(f.name, f.def, f.usage)
		}
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// NewRootCmd creates a fresh root command with all subcommands. Tests call
// it repeatedly to get isolated command trees.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairmaster",
		Short: "Pairmaster pairs this desktop with companion mobile devices.",
		Long: `Pairmaster finds companion devices over USB, the local network and
Bluetooth, installs the companion app when it is missing and pairs with
the device after you compare key thumbprints on both screens. Paired
devices are remembered in a trust store and reconnect without asking.`,
		Version:            readBuildInfo(nil).String(),
		SilenceUsage:       true,
		PersistentPreRunE:  setupDefaultServices,
		PersistentPostRunE: closeServices,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	applyDefaultFlags(cmd)

	cmd.AddCommand(
		newDevicesCmd(),
		newPairCmd(),
		newInstallCmd(),
		newTrustCmd(),
		newBlacklistCmd(),
		newAuditCmd(),
		newDBCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}
