package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/swtrack/internal/config"
	"github.com/breeze-rmm/swtrack/internal/logging"
)

var version = "0.1.0"

var (
	cfgFile   string
	dataFile  string
	logLevel  string
	logFormat string

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "swtrack",
	Short: "Installed software tracker",
	Long: `swtrack keeps an inventory of installed software (name, version, install date, status)
in a flat file and refreshes it from the Windows uninstall registry.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is swtrack.yaml in the user config dir or the working dir)")
	rootCmd.PersistentFlags().StringVar(&dataFile, "data-file", "", "inventory file (overrides data_file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err.Error()))
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and starts logging.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataFile != "" {
		loaded.DataFile = dataFile
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if logFormat != "" {
		loaded.LogFormat = logFormat
	}

	var out io.Writer = os.Stderr
	if loaded.LogFile != "" {
		rw, err := logging.NewRotatingWriter(loaded.LogFile, loaded.LogMaxSizeMB, loaded.LogMaxBackups)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = rw
		logCloser = rw
	}
	logging.Init(loaded.LogFormat, loaded.LogLevel, out)

	result := loaded.ValidateTiered()
	if result.HasFatals() {
		return fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}

	cfg = loaded
	return nil
}
