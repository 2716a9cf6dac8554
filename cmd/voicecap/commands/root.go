package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicecap/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	serviceName       = "voicecap"
	serviceVersion    = "1.0.0"
)

var (
	// Global flags
	configPath string
	envFile    string

	// Loaded before any subcommand runs
	globalConfig *config.Config
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voicecap",
	Short: "Record audio to WAV and transcribe it",
	Long: `voicecap - capture audio into a WAV container and send it to a
speech-to-text service.

Configuration is read from a YAML file (default configs/config.yaml, skipped
when missing), then VOICECAP_* environment variables. A .env file is loaded
first if present; the API key may be given as VOICECAP_TRANSCRIPTION_API_KEY
or DEEPGRAM_API_KEY.

Examples:
  # Record three seconds and print the transcript
  voicecap record --duration 3s

  # Transcribe an existing file
  voicecap transcribe ./recordings/Audio.wav

  # Loop forever with the HTTP API enabled
  VOICECAP_HTTP_ENABLED=true voicecap run`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadGlobals,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before environment overrides")

	rootCmd.AddCommand(recordCmd, transcribeCmd, inspectCmd, runCmd)
}

func loadGlobals(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	globalConfig = cfg
	logger = initLogger(cfg.Logging)

	logger.Debug("Configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", path),
		slog.String("command", cmd.Name()))
	return nil
}
