package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-webinar/liveshop/internal/live"
)

var (
	hostTitle       string
	hostDescription string
	hostSession     string
	hostProducts    []string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Go live from MEDIA_VIDEO_FILE / MEDIA_AUDIO_FILE",
	Long: `Acquires the configured IVF video and Ogg audio files as camera and microphone,
creates a live session (or hosts an existing one with --session) and streams to every viewer.
The session is ended on exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		ctrl := e.controller()

		var s *live.Session
		if hostSession != "" {
			id, err := uuid.Parse(hostSession)
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			s, err = ctrl.Host(ctx, id, e.user, live.WithChatHandler(printMessage))
			if err != nil {
				return err
			}
		} else {
			if hostTitle == "" {
				return fmt.Errorf("--title is required when creating a session")
			}
			s, err = ctrl.StartHosting(ctx, e.user, live.NewSession{
				Title:            hostTitle,
				Description:      hostDescription,
				FeaturedProducts: hostProducts,
			}, live.WithChatHandler(printMessage))
			if err != nil {
				return err
			}
		}
		return runSession(ctx, s)
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.Flags().StringVar(&hostTitle, "title", "", "session title")
	hostCmd.Flags().StringVar(&hostDescription, "description", "", "session description")
	hostCmd.Flags().StringVar(&hostSession, "session", "", "host an existing session instead of creating one")
	hostCmd.Flags().StringSliceVar(&hostProducts, "product", nil, "featured product reference (repeatable)")
}
