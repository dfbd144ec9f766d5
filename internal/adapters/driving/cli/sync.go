package cli

import (
	"github.com/spf13/cobra"

	"github.com/remarklab/mdsync/internal/core/ports/driving"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle",
	Long: `Runs one full sync cycle: scans the local directory and the device,
plans the required transfers and executes them in order.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	if err := requireSyncConfig(); err != nil {
		return err
	}

	report, err := syncService.SyncOnce(cmd.Context())
	if err != nil {
		return err
	}

	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report *driving.SyncReport) {
	if report.ChangesDetected == 0 {
		cmd.Println("Already in sync.")
		return
	}

	cmd.Printf("%d change(s): %d uploaded, %d downloaded, %d deleted, %d converted, %d skipped\n",
		report.ChangesDetected, report.Uploaded, report.Downloaded,
		report.Deleted, report.Converted, report.Skipped)

	if report.Conflicts > 0 {
		cmd.Printf("%d conflict(s) need resolution; see 'mdsync status' and 'mdsync resolve'.\n", report.Conflicts)
	}
	for _, e := range report.Errors {
		cmd.Printf("error: %s %s: %s\n", e.Action, e.Path, e.Reason)
	}
}
