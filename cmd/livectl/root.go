package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/liveshop/config"
	"github.com/aura-webinar/liveshop/internal/auth"
	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/live"
	"github.com/aura-webinar/liveshop/internal/media"
	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/relay"
	"github.com/aura-webinar/liveshop/internal/sessions"
	"github.com/aura-webinar/liveshop/pkg/database"
	"github.com/aura-webinar/liveshop/pkg/queue"
	"github.com/aura-webinar/liveshop/pkg/redis"
)

var (
	token   string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// env holds the collaborators a session command needs. close releases them.
type env struct {
	user      live.Participant
	broker    relay.Broker
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  *sessions.Repository
	chatStore chat.Store
	peers     peer.Factory
}

func (e *env) close() {
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func (e *env) controller() *live.Controller {
	return live.NewController(live.Config{
		Broker:   e.broker,
		Sessions: e.sessions,
		Chat:     e.chatStore,
		Peers:    e.peers,
		Media: &media.FileAcquirer{
			VideoPath: cfg.Media.VideoFile,
			AudioPath: cfg.Media.AudioFile,
			Logger:    logger,
		},
		JoinTimeout:  cfg.Relay.JoinTimeout,
		SendTimeout:  cfg.Relay.SendTimeout,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Logger:       logger,
	})
}

var rootCmd = &cobra.Command{
	Use:           "livectl",
	Short:         "Host, watch and chat in live shopping sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(verbose)
		if token == "" {
			token = cfg.Relay.Token
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT identifying the user (default $RELAY_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// openEnv resolves the caller from --token and connects Postgres, Redis and the relay.
// The relay is the websocket bridge when RELAY_URL is set, Redis pub/sub otherwise.
func openEnv(ctx context.Context) (*env, error) {
	if token == "" {
		return nil, errors.New("a token is required: pass --token or set RELAY_TOKEN (see livectl token)")
	}
	claims, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Validate(token)
	if err != nil {
		return nil, err
	}

	e := &env{user: live.Participant{ID: claims.UserID, Name: claims.Name, Avatar: claims.Avatar}}
	e.pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}
	e.sessions = sessions.NewRepository(e.pool)
	chatRepo := chat.NewRepository(e.pool)
	e.chatStore = chatRepo

	needRedis := cfg.Relay.URL == "" || cfg.Chat.Queued
	if needRedis {
		e.rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			e.close()
			return nil, err
		}
	}
	if cfg.Chat.Queued {
		e.chatStore = chat.NewQueuedStore(queue.NewQueue(e.rdb.Client, logger), chatRepo)
	}
	if cfg.Relay.URL != "" {
		e.broker = relay.NewWSBroker(cfg.Relay.URL, token, logger)
	} else {
		e.broker = relay.NewRedisBroker(e.rdb.Client, logger)
	}

	pc := peer.Configuration(peer.ICEServersFromConfig(cfg.WebRTC), uint8(cfg.WebRTC.CandidatePoolSize))
	factory, err := peer.NewPionFactory(pc)
	if err != nil {
		e.close()
		return nil, err
	}
	e.peers = factory
	return e, nil
}

func newLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
