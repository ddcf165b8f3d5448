package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/srosendal/rpi-uv/internal/logic/capture"
)

// CaptureCmd returns the capture command, a one-shot run of the full
// pipeline from the terminal.
func CaptureCmd() *cobra.Command {
	var cfgPath string
	var numPhotos int

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one capture sequence and print the region values",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			params := sequenceParams(app.Cfg, numPhotos)
			bar := progressbar.NewOptions(params.NumPhotos,
				progressbar.OptionSetDescription("Capturing"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)

			result, err := app.Sequencer.Run(cmd.Context(), params, func(ev capture.Event) {
				switch ev.Status {
				case capture.StatusCaptured:
					_ = bar.Add(1)
				case capture.StatusError:
					_ = bar.Exit()
				}
			})
			if err != nil {
				return err
			}
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)

			color.New(color.Bold).Printf("Session %s\n", result.Session.Folder)
			for i, v := range result.Averaged {
				fmt.Printf("  region %d: %d\n", i+1, v)
			}
			if result.Save != nil {
				color.Green("saved to %s (%s)", result.Save.SavedPath, result.Save.Location)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML configuration file")
	cmd.Flags().IntVar(&numPhotos, "photos", 0, "number of photos (1-5, 0 = configured value)")
	return cmd
}
