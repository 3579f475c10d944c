// teleflowd runs the sample bot. As coordinator it long-polls Telegram and
// either dispatches updates itself or forwards them to worker processes
// that share its session store over IPC. As worker it serves the updates a
// coordinator forwards.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/jdelaire/teleflow/adapters/redis_store"
	"github.com/jdelaire/teleflow/adapters/telegram_receiver"
	"github.com/jdelaire/teleflow/adapters/telegram_transport"
	"github.com/jdelaire/teleflow/core"
	"github.com/jdelaire/teleflow/core/api"
	"github.com/jdelaire/teleflow/core/config"
	"github.com/jdelaire/teleflow/core/configwatch"
	"github.com/jdelaire/teleflow/core/i18n"
	"github.com/jdelaire/teleflow/core/ipc"
	"github.com/jdelaire/teleflow/core/policy"
	"github.com/jdelaire/teleflow/core/ratelimit"
	"github.com/jdelaire/teleflow/core/scheduler"
	"github.com/jdelaire/teleflow/core/session"
	"github.com/jdelaire/teleflow/internal/keychain"
)

const (
	roleCoordinator = "coordinator"
	roleWorker      = "worker"

	watchInterval = 2 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		role       string
		connect    string
		storeToken bool
	)

	flagSet := pflag.NewFlagSet("teleflowd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "teleflow.json", "path to the JSON config file")
	flagSet.StringVar(&role, "role", roleCoordinator, "process role: coordinator or worker")
	flagSet.StringVar(&connect, "connect", "", "worker only: coordinator socket to dial instead of stdin/stdout")
	flagSet.BoolVar(&storeToken, "store-token", false, "save the configured bot token in the OS keychain and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With("role", role)

	if storeToken {
		if err := keychain.StoreBotToken(cfg.BotToken); err != nil {
			return fmt.Errorf("store bot token: %w", err)
		}
		logger.Info("bot token stored in keychain")
		return nil
	}
	token, err := keychain.BotToken(cfg.BotToken)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch role {
	case roleCoordinator:
		return runCoordinator(ctx, cfg, configPath, token, logger)
	case roleWorker:
		return runWorker(ctx, cfg, connect, token, logger)
	default:
		return fmt.Errorf("unknown role %q", role)
	}
}

func runCoordinator(ctx context.Context, cfg *config.Config, configPath, token string, logger *slog.Logger) error {
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	d, client, closeDispatcher, err := newDispatcher(ctx, cfg, token, store, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	var coord *ipc.Coordinator
	if cfg.IPC.Workers > 0 || cfg.IPC.SocketPath != "" {
		codec, err := ipc.CodecByName(cfg.IPC.Codec)
		if err != nil {
			return err
		}
		coord = ipc.NewCoordinator(store, codec, logger)
		defer coord.Shutdown()

		if cfg.IPC.Workers > 0 {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			for i := 1; i <= cfg.IPC.Workers; i++ {
				name := fmt.Sprintf("worker-%d", i)
				if err := coord.StartWorker(ctx, name, exe, "--role", roleWorker, "--config", configPath); err != nil {
					return fmt.Errorf("start %s: %w", name, err)
				}
			}
		}
		if cfg.IPC.SocketPath != "" {
			if err := coord.Listen(ctx, cfg.IPC.SocketPath); err != nil {
				return err
			}
		}
	}

	if me, err := client.GetMe(ctx); err != nil {
		logger.Warn("getMe failed", "error", err)
	} else {
		logger.Info("bot ready", "username", me.Username, "id", me.ID)
	}

	bot, err := telego.NewBot(token, telego.WithAPIServer(cfg.APIBaseURL), telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	handle := func(ctx context.Context, u telego.Update) {
		if coord != nil {
			err := coord.Forward(u)
			if err == nil {
				return
			}
			if !errors.Is(err, ipc.ErrNoWorkers) {
				logger.Error("forward failed, dispatching locally", "update_id", u.UpdateID, "error", err)
			}
		}
		if err := d.Dispatch(ctx, u); err != nil {
			logger.Error("dispatch failed", "update_id", u.UpdateID, "error", err)
		}
	}

	pol := policy.New(cfg.AllowedChats, cfg.MaxAge())
	var src core.Receiver = telegram_receiver.New(telegram_receiver.FromBot(bot, cfg.PollTimeoutSec), handle, pol, logger)
	return src.Start(ctx)
}

func runWorker(ctx context.Context, cfg *config.Config, connect, token string, logger *slog.Logger) error {
	codec, err := ipc.CodecByName(cfg.IPC.Codec)
	if err != nil {
		return err
	}

	var conn *ipc.Conn
	if connect != "" {
		conn, err = ipc.Dial(ctx, connect, codec)
		if err != nil {
			return err
		}
	} else {
		conn = ipc.StdioConn(codec)
	}

	ws := ipc.NewWorkerStore(conn, logger)
	d, _, closeDispatcher, err := newDispatcher(ctx, cfg, token, ws, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer closeDispatcher()

	logger.Info("worker ready", "codec", codec.Name())
	return ws.Run(ctx, func(ctx context.Context, u telego.Update) {
		if err := d.Dispatch(ctx, u); err != nil {
			logger.Error("dispatch failed", "update_id", u.UpdateID, "error", err)
		}
	})
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.Session.Backend != config.SessionBackendRedis {
		return session.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Session.RedisAddr,
		DB:   cfg.Session.RedisDB,
	})
	store := redis_store.New(client,
		redis_store.WithPrefix(cfg.Session.RedisPrefix),
		redis_store.WithTTL(cfg.RedisTTL()),
		redis_store.WithLogger(logger),
	)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis session store: %w", err)
	}
	logger.Info("redis session store connected", "addr", cfg.Session.RedisAddr, "db", cfg.Session.RedisDB)
	return store, func() { client.Close() }, nil
}

// newDispatcher builds the outbound path, the localization and the sample
// bot on top of store. The returned func stops the request scheduler.
func newDispatcher(ctx context.Context, cfg *config.Config, token string, store session.Store, logger *slog.Logger) (*core.Dispatcher, *api.Client, func(), error) {
	transport := telegram_transport.New(token).WithBaseURL(cfg.APIBaseURL)
	sched := scheduler.New(transport,
		scheduler.WithRate(cfg.RequestsPerSec),
		scheduler.WithRetryDelay(cfg.RetryDelay()),
		scheduler.WithLogger(logger),
	)
	client := api.New(sched)

	loc := i18n.New(cfg.I18n.DefaultLanguage)
	if cfg.I18n.Dir == "" {
		loc.Add(cfg.I18n.DefaultLanguage, defaultMessages)
	} else {
		reloader := core.NewReloader(loc, logger)
		reloader.ReloadLanguages(cfg.I18n.Dir)
		watcher := configwatch.New(watchInterval, logger)
		watcher.WatchDir(cfg.I18n.Dir, "*.json", reloader.ReloadLanguages)
		go watcher.Run(ctx)
	}

	d := core.NewDispatcher(store, client, loc, logger)
	if err := registerSampleBot(d, ratelimit.New(0, 0, 0)); err != nil {
		sched.Close()
		return nil, nil, nil, err
	}
	return d, client, sched.Close, nil
}

// newLogger writes to stderr; a worker's stdout carries IPC frames.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
