package cli

import (
	"github.com/spf13/cobra"

	"github.com/remarklab/mdsync/internal/core/domain"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state and per-file sync status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "list every tracked file, not just the problems")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	snapshot, err := syncService.Status(cmd.Context())
	if err != nil {
		return err
	}

	cmd.Printf("Device:  %s (%s)\n", settings.Device.Addr(), snapshot.Connection)
	cmd.Printf("Local:   %s\n", settings.Sync.LocalDir)
	cmd.Printf("Remote:  %s\n", settings.Sync.RemoteDir)

	summary := snapshot.Summary()
	cmd.Printf("Tracked: %d file(s): %d in sync, %d pending, %d conflicted, %d errored\n",
		len(snapshot.Entries),
		summary[domain.StatusInSync],
		summary[domain.StatusPendingUpload]+summary[domain.StatusPendingDownload],
		summary[domain.StatusConflict],
		summary[domain.StatusError])

	for _, entry := range snapshot.Entries {
		interesting := entry.Status != domain.StatusInSync
		if !statusAll && !interesting {
			continue
		}
		if entry.LastError != "" {
			cmd.Printf("  %-16s %s (%s)\n", entry.Status, entry.Path, entry.LastError)
		} else {
			cmd.Printf("  %-16s %s\n", entry.Status, entry.Path)
		}
	}
	return nil
}
