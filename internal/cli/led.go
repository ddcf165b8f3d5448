package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// LedCmd returns the led command for driving the UV illumination
// channel directly, mainly for bench testing.
func LedCmd() *cobra.Command {
	var cfgPath string
	var duty int
	var hold time.Duration

	cmd := &cobra.Command{
		Use:   "led",
		Short: "Set the UV LED duty cycle",
		Long: `Drive the illumination PWM channel at the given duty cycle, hold it
for the requested duration and then switch it off. The LED is always
forced off on exit, including on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Led == nil {
				return fmt.Errorf("illumination hardware unavailable")
			}
			if err := app.Led.SetDutyCycle(duty); err != nil {
				return err
			}
			fmt.Printf("led pin %d at %d%% for %s\n", app.Cfg.Illumination.Pin, duty, hold)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-time.After(hold):
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML configuration file")
	cmd.Flags().IntVar(&duty, "duty", 60, "duty cycle percentage (0-100)")
	cmd.Flags().DurationVar(&hold, "hold", 5*time.Second, "how long to hold the duty cycle")
	return cmd
}
