package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicecap/internal/audio"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Decode a recording and print its format",
	Long: `Check that FILE is a well-formed WAV container with patched length
fields and print its format as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := inspectFile(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

type inspectReport struct {
	File        string      `json:"file"`
	SizeBytes   int64       `json:"size_bytes"`
	ChunkSize   uint32      `json:"riff_chunk_size"`
	DataSize    uint32      `json:"data_chunk_size"`
	DurationSec float64     `json:"duration_seconds"`
	Info        *audio.Info `json:"info"`
}

func inspectFile(path string) (*inspectReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	raw := make([]byte, audio.HeaderSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrInvalidContainer, err)
	}
	header, err := audio.ParseWAVHeader(raw)
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	info, err := audio.Inspect(f)
	if err != nil {
		return nil, err
	}

	return &inspectReport{
		File:        path,
		SizeBytes:   st.Size(),
		ChunkSize:   header.ChunkSize,
		DataSize:    header.Subchunk2Size,
		DurationSec: info.Duration.Seconds(),
		Info:        info,
	}, nil
}
