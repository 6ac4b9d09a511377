package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/creatorscope/audit-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml with the default settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat("config.yaml"); err == nil {
			return eris.New("config.yaml already exists, refusing to overwrite")
		}

		out, err := config.DefaultYAML()
		if err != nil {
			return err
		}
		if err := os.WriteFile("config.yaml", out, 0o644); err != nil {
			return eris.Wrap(err, "write config.yaml")
		}

		fmt.Println("Wrote config.yaml. Set youtube.key and anthropic.key (or CREATORSCOPE_YOUTUBE_KEY / CREATORSCOPE_ANTHROPIC_KEY) before running audits.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
