package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srosendal/rpi-uv/internal/cli"
	"github.com/srosendal/rpi-uv/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "rpi-uv",
		Short:   "UV test strip analyzer appliance",
		Version: web.Version,
		Long: `rpi-uv drives a Raspberry Pi test strip analyzer: camera preview and
multi-shot capture, UV LED illumination, region analysis of the strip
pads and persistence of the results to removable storage.`,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.CaptureCmd())
	rootCmd.AddCommand(cli.AnalyzeCmd())
	rootCmd.AddCommand(cli.LedCmd())
	rootCmd.AddCommand(cli.SessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
