package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/BYTE-6D65/timeshim/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "timeshim",
	Short: "Timeshim - deterministic time for tool-assisted game runs",
	Long: `Timeshim virtualises the clocks a game reads and decides how much real time
its sleeps and waits may consume, so every frame sees exactly the time the
framerate dictates.

This tool drives the timing engine from a simulated game loop:
  - demo:     interactive view of virtual vs real time
  - simulate: headless run with a JSON or text report
  - config:   print the effective configuration`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and platform information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "timeshim v%s\n", version)
		fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (defaults, then --config file, then TIMESHIM_* env)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := engine.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Launch the interactive demo",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	flags.StringVar(&logLevel, "log-level", "", "log level (overrides TIMESHIM_LOG_LEVEL)")

	rootCmd.AddCommand(versionCmd, configCmd, demoCmd, simulateCmd)
}

// newLogger builds the console logger. The level comes from --log-level, then
// TIMESHIM_LOG_LEVEL, and defaults to info.
func newLogger(w io.Writer) (zerolog.Logger, error) {
	name := logLevel
	if name == "" {
		name = os.Getenv("TIMESHIM_LOG_LEVEL")
	}
	level := zerolog.InfoLevel
	if name != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(name))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", name, err)
		}
		level = parsed
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000000"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}
