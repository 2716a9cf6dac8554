package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicecap/internal/pipeline"
)

var (
	recordDuration time.Duration
	recordFile     string
	recordJSON     bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record once and transcribe the result",
	Long: `Record from the configured source into the capture file, finalize the
WAV header and upload it for transcription.

Press Ctrl-C to stop recording early; the partial file is still finalized
but not transcribed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, globalConfig, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		duration := a.pipeline.Config().Duration
		if recordDuration > 0 {
			duration = recordDuration
		}
		file := a.pipeline.Config().Filename
		if recordFile != "" {
			file = recordFile
		}

		cycle, err := a.pipeline.RunCycle(ctx, file, duration)
		if perr := printCycle(cmd.OutOrStdout(), cycle, recordJSON); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "recording length (default from config)")
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "", "recording file name inside the storage dir (default from config)")
	recordCmd.Flags().BoolVar(&recordJSON, "json", false, "print the full cycle as JSON")
}

func printCycle(w io.Writer, cycle pipeline.Cycle, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cycle)
	}

	line := cycle.Message
	switch cycle.Outcome {
	case pipeline.OutcomeTooShort:
		line = "Recording too short"
	case pipeline.OutcomeSilent:
		line = "No voice activity"
	case pipeline.OutcomeCancelled:
		line = "Recording cancelled"
	}
	if line == "" && cycle.Error != "" {
		line = cycle.Error
	}
	_, err := fmt.Fprintf(w, "[%s] %.2fs %s\n", cycle.Outcome, cycle.DurationSeconds, line)
	return err
}
