package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/medshelf/internal/config"
	"github.com/jackzampolin/medshelf/internal/home"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available patient profiles",
	Long: `List patient profiles found in the home directory.

Profiles live at ~/.medshelf/profiles/<name>.yaml and carry per-patient
paths, model overrides and the demographics passed to extraction as
patient context. Files starting with "_" are treated as templates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir, "")
		if err != nil {
			return err
		}

		names, err := config.ListProfiles(h.ProfilesDir())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Printf("No profiles found in %s\n", h.ProfilesDir())
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
