package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Cirno10124/stream-recognizer-go/internal/audiosource"
)

func newFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file [path]",
		Short: "Transcribe a pre-recorded 16kHz mono WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSession(audiosource.NewAudioFile(args[0]), args[0])
		},
	}
}
