// Package cli wires the service stack behind the mdsync command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	configfile "github.com/remarklab/mdsync/internal/adapters/driven/config/file"
	"github.com/remarklab/mdsync/internal/adapters/driven/convert"
	"github.com/remarklab/mdsync/internal/adapters/driven/fswatch"
	"github.com/remarklab/mdsync/internal/adapters/driven/sshshell"
	"github.com/remarklab/mdsync/internal/adapters/driven/storage/sqlite"
	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driving"
	"github.com/remarklab/mdsync/internal/core/services"
	"github.com/remarklab/mdsync/internal/core/services/device"
	"github.com/remarklab/mdsync/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	verbose   bool
	configDir string
)

// Services shared by the subcommands, built in initServices.
var (
	settingsStore *configfile.SettingsStore
	settings      domain.Settings
	entryStore    *sqlite.Store
	connection    *services.Connection
	syncService   driving.SyncService
)

var rootCmd = &cobra.Command{
	Use:   "mdsync",
	Short: "Two-way markdown sync between a local directory and a reMarkable tablet",
	Long: `mdsync keeps a local markdown directory and a reMarkable tablet in
two-way sync over SSH. Markdown files are optionally rendered to PDF
and registered with the tablet's reading list.`,
	SilenceUsage:      true,
	PersistentPreRunE: initServices,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config and state directory (default ~/.mdsync)")
}

// Execute runs the command tree and releases the shared services.
func Execute() error {
	defer teardown()
	return rootCmd.Execute()
}

func initServices(_ *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)

	var err error
	settingsStore, err = configfile.NewSettingsStore(configDir)
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	settings, err = settingsStore.Load()
	if err != nil {
		return err
	}

	entryStore, err = sqlite.NewStore(configDir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	connection = services.NewConnection(sshshell.NewDialer(), settings.Device, settings.Sync.MaxReconnectAttempts)

	detector := services.NewDetector(fswatch.New(settings.Sync.LocalDir), connection, settings.Sync)
	planner := services.NewPlanner(entryStore, connection, settings)
	conversion := services.NewConversion(convert.NewPandoc())
	registrar := device.NewRegistrar(connection)
	backups := services.NewBackups(settings.Sync.LocalDir, settings.Backup)
	executor := services.NewExecutor(entryStore, connection, conversion, registrar, detector, backups, settings)
	syncService = services.NewEngine(settings, connection, detector, planner, executor, entryStore)
	return nil
}

func teardown() {
	if connection != nil {
		if err := connection.Disconnect(); err != nil {
			logger.Debug("disconnect: %v", err)
		}
	}
	if entryStore != nil {
		if err := entryStore.Close(); err != nil {
			logger.Debug("closing state store: %v", err)
		}
	}
}

// requireSyncConfig rejects commands that need a configured sync pair.
func requireSyncConfig() error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w\nrun 'mdsync config init' and set sync.local_dir in %s", err, settingsStore.Path())
	}
	return nil
}
