package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/ramdisk"
)

func newRamdiskCommand() *cobra.Command {
	var (
		opts    ramdisk.Options
		timeout time.Duration
	)
	c := &cobra.Command{
		Use:   "ramdisk CALLBACK_URL",
		Short: "Discover local hardware and report it to discoverd",
		Long: `Run inside the discovery ramdisk: collect hardware facts, post them
to the discoverd callback URL (e.g. http://10.0.0.1:5050/v1/continue) and
apply BMC credentials when discoverd asks for it. Exits non-zero when
discovery or the callback failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CallbackURL = args[0]

			logFile, err := os.Create(opts.LogFile)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer logFile.Close()
			logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: logFile})

			ctx, cancel := waitContext(cmd.Context(), timeout)
			defer cancel()
			return ramdisk.NewAgent(opts, ramdisk.WithAgentLogger(logger)).Run(ctx)
		},
	}
	c.Flags().StringVarP(&opts.LogFile, "log-file", "l", "discovery-logs", "path to the agent log file")
	c.Flags().StringArrayVarP(&opts.SystemLogFiles, "system-log-file", "L", nil,
		"system log file to send to discoverd, may be repeated")
	c.Flags().StringVar(&opts.Discover.BootInterface, "bootif", "", "PXE boot interface")
	c.Flags().BoolVar(&opts.Discover.HardwareDetect, "use-hardware-detect", false,
		"collect the extended inventory with hardware-detect")
	c.Flags().BoolVar(&opts.Discover.Benchmark, "benchmark", false, "enable hardware-detect benchmarks")
	c.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall time limit, 0 for none")
	return c
}
