package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/elma1989/join/account"
	"github.com/elma1989/join/api"
	"github.com/elma1989/join/board"
	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/config"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
	"github.com/elma1989/join/session"
	"github.com/elma1989/join/storage"
	"github.com/elma1989/join/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		configureLogging(cfg)
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log.StandardLogger())
	},
}

// backend is the storage side shared by serve and replay-writes.
type backend struct {
	redis *redis.Client
	store *storage.Cache
	feed  changefeed.Feed
	retry *storage.RetryQueue
	repo  *board.Repository
	tasks *board.TaskBoard

	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(cfg *config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}
	redisOpts, err := cfg.Redis.RedisOptions()
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.redis = redis.NewClient(redisOpts)
	b.closers = append(b.closers, func() { _ = b.redis.Close() })

	base, err := storage.New(cfg.Storage.ConnectionString, tablesOf(cfg.Storage), cfg.Storage.Partition)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	b.store = storage.NewCache(base, b.redis, cfg.Storage.CacheTTL)

	feed, closeFeed, err := openFeed(cfg.Feed, b.redis, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("feed: %w", err)
	}
	b.feed = feed
	b.closers = append(b.closers, closeFeed)

	if b.retry, err = storage.NewRetryQueue(cfg.Storage.ConnectionString, cfg.Storage.RetryQueue, logger); err != nil {
		b.Close()
		return nil, fmt.Errorf("retry queue: %w", err)
	}

	policy, err := board.ParsePolicy(cfg.Board.SavePolicy)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.repo = board.NewRepository(b.store, b.feed, logger)
	b.tasks = board.NewTaskBoard(b.repo, board.TaskBoardOptions{Policy: policy, Parker: b.retry, Logger: logger})
	return b, nil
}

func tablesOf(cfg config.StorageConfig) storage.Tables {
	return storage.Tables{
		domain.ContactsCollection: cfg.ContactsTable,
		domain.TasksCollection:    cfg.TasksTable,
		domain.SubtasksCollection: cfg.SubtasksTable,
		domain.AccountsCollection: cfg.AccountsTable,
	}
}

func openFeed(cfg config.FeedConfig, rc *redis.Client, logger *log.Logger) (changefeed.Feed, func(), error) {
	switch cfg.Driver {
	case config.FeedNATS:
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("join"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.WithError(err).Warn("nats disconnected")
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		return changefeed.NewNATS(nc, logger), nc.Close, nil
	case config.FeedMemory:
		m := changefeed.NewMemory()
		return m, m.Close, nil
	default:
		return changefeed.NewRedis(rc, logger), func() {}, nil
	}
}

func openAuth(cfg config.AuthConfig, logger *log.Logger) (api.Authenticator, api.TokenIssuer, func(), error) {
	if cfg.Mode == config.AuthAuth0 {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, cfg.Audience, "https://"+cfg.Domain+"/", cfg.JWKSCacheTTL), nil, jwks.EndBackground, nil
	}
	secret := []byte(cfg.Secret)
	tokens := &account.Tokens{Secret: secret, Issuer: cfg.Issuer, Audience: cfg.Audience, TTL: cfg.TokenTTL}
	return api.NewLocalAuth(secret, cfg.Audience, cfg.Issuer), tokens, func() {}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	limiter := func() *rate.Limiter {
		if cfg.Board.RefreshRate <= 0 {
			return nil
		}
		return rate.NewLimiter(rate.Limit(cfg.Board.RefreshRate), cfg.Board.RefreshBurst)
	}
	if err := b.tasks.Watch(ctx, b.feed, mirror.Options[*domain.Task]{
		Limiter:        limiter(),
		InitialBackoff: cfg.Board.BackoffInitial,
		MaxBackoff:     cfg.Board.BackoffMax,
		Logger:         logger,
	}); err != nil {
		return err
	}
	defer b.tasks.Close()

	contacts := board.NewContactBook(b.repo, b.tasks, logger)
	if err := contacts.Watch(ctx, b.feed, mirror.Options[*domain.Contact]{
		Limiter:        limiter(),
		InitialBackoff: cfg.Board.BackoffInitial,
		MaxBackoff:     cfg.Board.BackoffMax,
		Logger:         logger,
	}); err != nil {
		return err
	}
	defer contacts.Close()

	auth, tokens, closeAuth, err := openAuth(cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	srv := api.New(api.Options{
		Auth:           auth,
		Accounts:       account.NewService(b.repo, cfg.Auth.BcryptCost, logger),
		Tokens:         tokens,
		Sessions:       session.New(b.redis, cfg.Session.TTL),
		Contacts:       contacts,
		Board:          b.tasks,
		Forms:          validation.NewRegistry(),
		Source:         b.repo,
		Feed:           b.feed,
		Logger:         logger,
		ToastTTL:       cfg.Server.ToastTTL,
		FormIdleTTL:    cfg.Server.FormIdleTTL,
		RefreshRate:    cfg.Board.RefreshRate,
		RefreshBurst:   cfg.Board.RefreshBurst,
		BackoffInitial: cfg.Board.BackoffInitial,
		BackoffMax:     cfg.Board.BackoffMax,
	})

	e := echo.New()
	e.HideBanner = true
	origins := cfg.Server.Origins()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Client-ID"},
		AllowCredentials: len(origins) > 0 && origins[0] != "*",
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("join"))
	e.GET("/metrics", echoprometheus.NewHandler())
	srv.Register(e)

	if cfg.Board.ReplayInterval > 0 {
		go replayLoop(ctx, b, cfg.Board.ReplayInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// replayLoop drains parked subtask writes until ctx is done.
func replayLoop(ctx context.Context, b *backend, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := b.retry.Drain(ctx, b.tasks.ApplyPending)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("replay parked writes failed")
			continue
		}
		if n > 0 {
			logger.WithField("writes", n).Info("replayed parked writes")
		}
	}
}
