package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/live"
)

const closeTimeout = 10 * time.Second

func printMessage(m chat.Message) {
	at := m.CreatedAt.Local().Format("15:04:05")
	if m.Type == chat.TypeLike {
		fmt.Printf("[%s] %s %s\n", at, m.Name, chat.LikeContent)
		return
	}
	fmt.Printf("[%s] %s: %s\n", at, m.Name, m.Content)
}

// runSession starts s, prints the chat and forwards stdin lines to it until EOF or a signal.
// "/like" sends a like. s is always closed.
func runSession(ctx context.Context, s *live.Session) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Warn("session close", zap.Error(err))
		}
	}()

	history, err := s.Start(ctx)
	if err != nil {
		return err
	}
	info := s.Info()
	fmt.Printf("%s %q (%s) as %s. Type to chat, /like to like, Ctrl-D to leave.\n", info.Status, info.Title, info.ID, s.Role())
	for _, m := range history {
		printMessage(m)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(ctx, s, line); err != nil {
				logger.Warn("chat send failed", zap.Error(err))
			}
		}
	}
}

func sendLine(ctx context.Context, s *live.Session, line string) error {
	if strings.TrimSpace(line) == "/like" {
		return s.SendLike(ctx)
	}
	return s.SendMessage(ctx, line)
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
