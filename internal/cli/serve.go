package cli

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/srosendal/rpi-uv/internal/web"
)

// ServeCmd returns the serve command, the normal appliance mode.
func ServeCmd() *cobra.Command {
	var cfgPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface and capture service",
		Long: `Start the HTTP server that drives the device: live camera preview,
capture sequences with progress streaming, analysis, storage and the
configuration editor. This is the mode the appliance boots into.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			broadcaster := web.NewStatusBroadcaster()
			// Mirror the debug log onto the status stream so the UI
			// log panel shows the same lines as the console.
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

			server := web.NewServer(addr, web.Deps{
				Cfg:         app.Cfg,
				CfgPath:     app.CfgPath,
				Manager:     app.Manager,
				Sequencer:   app.Sequencer,
				Engine:      app.Engine,
				Writer:      app.Writer,
				Led:         app.Led,
				Registry:    app.Registry,
				Broadcaster: broadcaster,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			debug.Section("rpi-uv serve")
			debug.Value("address", addr)
			debug.Value("mock camera", app.Cfg.Capture.Mock)
			debug.Value("mock gpio", app.Cfg.Defaults.MockGPIO)

			err = server.Run(ctx)
			debug.Info("shutting down")
			return err
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":5000", "listen address")
	return cmd
}
