package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srosendal/rpi-uv/internal/logic/results"
)

// AnalyzeCmd returns the analyze command, which re-runs region
// analysis over a previously captured session folder.
func AnalyzeCmd() *cobra.Command {
	var cfgPath string
	var folder string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Re-analyze the photos of an existing session folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			dir := filepath.Join(app.Cfg.Sequence.PhotosDir, filepath.Base(folder))
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("session folder %s: %w", folder, err)
			}

			matches, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
			if err != nil {
				return err
			}
			sort.Strings(matches)
			photos := make([]string, len(matches))
			for i, m := range matches {
				photos[i] = filepath.Base(m)
			}

			perImage, err := app.Engine.AnalyzeFiles(dir, photos, app.Cfg.Rois)
			if err != nil {
				return err
			}
			averaged, err := results.Average(perImage)
			if err != nil {
				return err
			}

			color.New(color.Bold).Printf("Session %s (%d photos)\n", filepath.Base(folder), len(photos))
			for i, row := range perImage {
				fmt.Printf("  %s: %v\n", photos[i], row)
			}
			fmt.Printf("  averaged: %v\n", averaged)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML configuration file")
	cmd.Flags().StringVar(&folder, "folder", "", "session folder name (e.g. 20260115_103000)")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}
