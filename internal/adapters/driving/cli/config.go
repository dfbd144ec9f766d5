package cli

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current (default) settings",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	shown := settings
	if shown.Device.Password != "" {
		shown.Device.Password = "********"
	}

	data, err := toml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	cmd.Printf("# %s\n", settingsStore.Path())
	cmd.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(settingsStore.Path()); err == nil {
		return fmt.Errorf("%s already exists", settingsStore.Path())
	}
	if err := settingsStore.Save(settings); err != nil {
		return err
	}
	cmd.Printf("wrote %s\n", settingsStore.Path())
	return nil
}
