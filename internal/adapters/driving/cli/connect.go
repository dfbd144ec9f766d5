package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var savePassword bool

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Verify the connection to the device",
	Long: `Establishes an SSH session to the device and reports the result.
Prompts for the device password when none is configured; the password
is printed on the device under Settings > Help > Copyrights and licenses.`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().BoolVar(&savePassword, "save", false, "store the entered password in the config file")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, _ []string) error {
	if settings.Device.Password == "" {
		password, err := promptPassword(cmd)
		if err != nil {
			return err
		}
		settings.Device.Password = password
		connection.SetConfig(settings.Device)

		if savePassword {
			if err := settingsStore.Save(settings); err != nil {
				return err
			}
			cmd.Printf("Password saved to %s\n", settingsStore.Path())
		}
	}

	cmd.Printf("Connecting to %s...\n", settings.Device.Addr())
	if err := connection.Connect(cmd.Context()); err != nil {
		return err
	}

	state, _ := connection.State()
	cmd.Printf("Connected (%s).\n", state)
	return nil
}

func promptPassword(cmd *cobra.Command) (string, error) {
	cmd.Printf("Password for %s@%s: ", settings.Device.User, settings.Device.Host)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		cmd.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}

	// Piped stdin, used by scripts.
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
