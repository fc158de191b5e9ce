package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"trigno-driver/utils"
)

var (
	configPath string
	hostFlag   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "trigno",
	Short: "Client for the Delsys Trigno wireless EMG base station",
	Long: "trigno talks to a Trigno base station over its command port and\n" +
		"streams EMG and accelerometer frames from its two data ports.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to trigno.yaml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "base station address, overrides device.host")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR, overrides logging.level")
}

// loadConfig resolves the config file plus flag overrides.
func loadConfig() (utils.Config, error) {
	cfg := utils.DefaultConfig()
	if configPath != "" {
		loaded, err := utils.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if hostFlag != "" {
		cfg.Device.Host = hostFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// initLogger sets up the process-wide logger (stderr plus the configured
// log file, truncated) and prints the banner.
func initLogger(cfg utils.Config) *utils.Logger {
	level, _ := utils.ParseLogLevel(cfg.Logging.Level)
	logger := utils.InitLogger(level, cfg.Logging.LogFile)

	utils.L().Info("═══════════════════════════════════════════════════")
	utils.L().Info("  trigno  ·  Delsys Trigno EMG client")
	utils.L().Info("  GOMAXPROCS=%d  ·  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	utils.L().Info("═══════════════════════════════════════════════════")
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
