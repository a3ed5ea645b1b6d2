package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "cutoutcam",
		Short: "CutoutCam - live camera feed with the background cut out",
		Long: `CutoutCam captures a camera feed, asks a segmentation engine which pixels
belong to the person in frame and composites only those pixels onto a
transparent surface.

Features:
  • Synthetic, image-directory and GStreamer capture sources
  • Local chroma key or remote segmentation engine
  • Placeholder shown until the first composite, then a crossfade to live
  • MJPEG stream, PNG snapshots and an optional X11 preview window
  • REST and websocket API, prometheus metrics`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cutoutcam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// loadConfig resolves the configuration from file, environment and flags
// and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

// configPath returns the file config commands read and write
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
