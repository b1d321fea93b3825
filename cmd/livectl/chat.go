package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-webinar/liveshop/internal/chat"
)

var chatLike bool

var chatCmd = &cobra.Command{
	Use:   "chat <session-id> [text...]",
	Short: "Send one chat message or like without joining the stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		text := strings.Join(args[1:], " ")
		if text == "" && !chatLike {
			return fmt.Errorf("nothing to send: give text or --like")
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		sender := &chat.Sender{UserID: e.user.ID.String(), Name: e.user.Name, Avatar: e.user.Avatar}
		r := chat.NewRelay(e.broker, e.chatStore, id.String(), sender, nil,
			chat.WithLikeCounter(likeCounter{e}),
			chat.WithJoinTimeout(cfg.Relay.JoinTimeout),
			chat.WithSendTimeout(cfg.Relay.SendTimeout),
			chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
			chat.WithLogger(logger))
		if _, err := r.Join(ctx); err != nil {
			return err
		}
		defer r.Leave()

		if chatLike {
			return r.SendLike(ctx)
		}
		return r.SendMessage(ctx, text)
	},
}

// likeCounter bumps likes_count for the one-shot chat command.
type likeCounter struct {
	e *env
}

func (l likeCounter) AddLike(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return err
	}
	return l.e.sessions.AddLike(ctx, id)
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatLike, "like", false, "send a like instead of text")
}
