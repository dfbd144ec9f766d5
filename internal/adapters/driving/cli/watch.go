package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync continuously until interrupted",
	Long: `Watches the local directory for changes and polls the device on an
interval, syncing both directions as changes appear. Stop with Ctrl-C;
the in-flight transfer is allowed to finish.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if err := requireSyncConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Watching %s <-> %s:%s (Ctrl-C to stop)\n",
		settings.Sync.LocalDir, settings.Device.Host, settings.Sync.RemoteDir)

	err := syncService.Watch(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cmd.Println("Stopped.")
	return nil
}
