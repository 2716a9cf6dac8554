package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicecap/internal/storage"
	"github.com/skypro1111/voicecap/internal/transcription"
)

var transcribeJSON bool

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Upload an existing recording for transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		store, err := storage.NewLocal(filepath.Dir(path))
		if err != nil {
			return err
		}

		client, err := transcription.NewClient(transcriptionConfig(globalConfig.Transcription), store, logger, nil)
		if err != nil {
			return fmt.Errorf("failed to create transcription client: %w", err)
		}
		defer client.Close()

		res := client.Transcribe(cmd.Context(), filepath.Base(path))

		out := cmd.OutOrStdout()
		if transcribeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(transcribeOutput(res)); err != nil {
				return err
			}
		} else if msg := res.Message(); msg != "" {
			fmt.Fprintln(out, msg)
		}

		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Kind, res.Err)
		}
		return nil
	},
}

func init() {
	transcribeCmd.Flags().BoolVar(&transcribeJSON, "json", false, "print the full result as JSON")
}

func transcribeOutput(res transcription.Result) map[string]any {
	out := map[string]any{
		"kind":       res.Kind,
		"message":    res.Message(),
		"bytes_sent": res.BytesSent,
		"latency_ms": res.Latency.Milliseconds(),
	}
	if res.Text != "" {
		out["transcript"] = res.Text
	}
	if res.ErrorCode != "" {
		out["error_code"] = res.ErrorCode
	}
	if res.StatusCode != 0 {
		out["status_code"] = res.StatusCode
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}
