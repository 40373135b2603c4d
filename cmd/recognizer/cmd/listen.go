package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Cirno10124/stream-recognizer-go/internal/audiosource"
)

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Transcribe live microphone input until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSession(audiosource.NewMicrophone(), "")
		},
	}
}
