package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicebox-app/voicebox/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "voicebox-audio",
	Short: "Voicebox audio core daemon",
	Long:  `Voicebox audio core - capture and playback engine for voice profile recording.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voicebox-audio %s\n", Version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the audio core daemon",
	Long:  `Start the audio core and serve capture/playback commands from the front-end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runDaemon(cfg)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report which capture backends this host supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runProbe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
