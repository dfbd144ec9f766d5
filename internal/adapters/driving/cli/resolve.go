package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remarklab/mdsync/internal/core/domain"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path> <keep-local|keep-remote|skip>",
	Short: "Resolve a conflicted file",
	Long: `Resolve applies an explicit decision to a conflicted file.

keep-local uploads the local copy, keep-remote downloads the device
copy, and skip accepts the current local content as the new baseline
without transferring anything.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	path := args[0]

	var resolution domain.ConflictResolution
	switch args[1] {
	case string(domain.ResolveKeepLocal):
		resolution = domain.ResolveKeepLocal
	case string(domain.ResolveKeepRemote):
		resolution = domain.ResolveKeepRemote
	case string(domain.ResolveSkip):
		resolution = domain.ResolveSkip
	default:
		return fmt.Errorf("%w: unknown resolution %q (want keep-local, keep-remote or skip)",
			domain.ErrInvalidInput, args[1])
	}

	if err := requireSyncConfig(); err != nil {
		return err
	}
	if err := syncService.Resolve(cmd.Context(), path, resolution); err != nil {
		return err
	}

	cmd.Printf("resolved %s (%s)\n", path, resolution)
	return nil
}
