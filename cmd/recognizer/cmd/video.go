package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Cirno10124/stream-recognizer-go/internal/audiosource"
)

func newVideoCmd() *cobra.Command {
	var ffmpegPath string

	c := &cobra.Command{
		Use:   "video [path]",
		Short: "Extract and transcribe a video file's audio track via ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if ffmpegPath == "" {
				ffmpegPath = os.Getenv("FFMPEG_PATH")
			}
			return runSession(audiosource.NewVideoFile(args[0], ffmpegPath), args[0])
		},
	}
	c.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "path to the ffmpeg binary (default: $FFMPEG_PATH or \"ffmpeg\" on $PATH)")
	return c
}
