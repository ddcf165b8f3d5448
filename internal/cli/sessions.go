package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srosendal/rpi-uv/internal/logic/storage"
)

// SessionsCmd returns the sessions command, which lists the capture
// runs recorded in the local registry.
func SessionsCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded capture sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Registry == nil {
				return fmt.Errorf("session registry unavailable")
			}
			sessions, err := app.Registry.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions recorded")
				return nil
			}

			bold := color.New(color.Bold)
			bold.Printf("%-17s %-6s %-22s %s\n", "FOLDER", "PHOTOS", "REGIONS", "LOCATION")
			for _, s := range sessions {
				loc := s.Location
				if s.Location == storage.LocationRemovable {
					loc = color.GreenString("%s (%s)", s.Location, s.SavedPath)
				}
				fmt.Printf("%-17s %-6d %-22v %s\n", s.Folder, s.PhotoCount, s.Regions, loc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML configuration file")
	return cmd
}
