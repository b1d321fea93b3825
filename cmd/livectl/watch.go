package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-webinar/liveshop/internal/live"
	"github.com/aura-webinar/liveshop/internal/media"
)

var watchRecord bool

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Join a session as a viewer",
	Long: `Joins a live session, negotiates a peer connection with the host and follows the chat.
With --record the host's video and audio are written to MEDIA_OUTPUT_DIR as IVF/Ogg.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		opts := []live.SessionOption{live.WithChatHandler(printMessage)}
		var rec *media.Recorder
		if watchRecord {
			rec, err = media.NewRecorder(cfg.Media.OutputDir, id.String(), logger)
			if err != nil {
				return err
			}
			opts = append(opts, live.WithTrackHandler(rec.Record))
		}

		s, err := e.controller().Enter(ctx, id, e.user, opts...)
		if err != nil {
			return err
		}
		err = runSession(ctx, s)
		if rec != nil {
			rec.Wait()
			for _, f := range rec.Files() {
				fmt.Println("recorded", f)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "write received tracks to MEDIA_OUTPUT_DIR")
}
