package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/fine-comments-service/internal/api"
	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/config"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/storage"
	"github.com/UkralStul/fine-comments-service/internal/storage/inmemory"
	"github.com/UkralStul/fine-comments-service/internal/storage/postgres"
)

func main() {
	cfg := config.Load()

	storageType := flag.String("storage", cfg.Storage, "Storage type (in-memory or postgres)")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, *storageType, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, storageType string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Storage
	log.Info("starting server", zap.String("storage", storageType))
	switch storageType {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for postgres storage")
		}
		pg, err := postgres.New(cfg.DatabaseURL, cfg.DBDebug)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	case "in-memory":
		mem := inmemory.New()
		// Заполним данными для тестов
		if err := fillWithMockData(ctx, mem, log); err != nil {
			return err
		}
		store = mem
	default:
		return fmt.Errorf("unknown storage type %q", storageType)
	}

	bus, closeBus, err := newBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	published := realtime.NewPublishingStorage(store, bus, log)
	comments := commentstore.New(published,
		commentstore.WithLogger(log),
		commentstore.WithMetrics(m),
		commentstore.WithReadRetry(cfg.Retry),
	)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Storage:  published,
			Comments: comments,
			Feed:     bus,
			Gatherer: reg,
			Logger:   log,
		}),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newBus выбирает ленту изменений: Redis, если задан REDIS_URL, иначе хаб в памяти.
func newBus(cfg config.Config, log *zap.Logger) (realtime.Bus, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("using in-process change feed")
		return realtime.NewHub(0, log), func() {}, nil
	}
	feed, err := realtime.NewRedisFeed(cfg.RedisURL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("using redis change feed")
	return feed, func() { _ = feed.Close() }, nil
}

func fillWithMockData(ctx context.Context, s storage.Storage, log *zap.Logger) error {
	// 1. Создаем участников группы.
	names := []struct{ username, display string }{
		{"anna", "Анна"},
		{"boris", "Борис"},
		{"vera", "Вера"},
	}
	users := make([]*domain.Author, 0, len(names))
	for _, n := range names {
		u, err := s.CreateAuthor(ctx, &domain.Author{Username: n.username, DisplayName: n.display})
		if err != nil {
			return fmt.Errorf("fillWithMockData: create user %s: %w", n.username, err)
		}
		users = append(users, u)
	}
	anna, boris, vera := users[0], users[1], users[2]

	// 2. Штраф с включенными комментариями.
	fine, err := s.CreateFine(ctx, &domain.Fine{
		Kind:            domain.FineKindFine,
		OffenderID:      boris.ID,
		IssuerID:        anna.ID,
		Description:     "Опоздал на созвон на 15 минут",
		Amount:          1,
		CommentsEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: create fine: %w", err)
	}

	// 3. Корневой комментарий и ответ на него.
	c1, err := s.CreateComment(ctx, &domain.Comment{
		FineID:   fine.ID,
		AuthorID: boris.ID,
		Content:  "Пробки, честно!",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: create comment 1: %w", err)
	}
	_, err = s.CreateComment(ctx, &domain.Comment{
		FineID:          fine.ID,
		ParentCommentID: &c1.ID,
		AuthorID:        anna.ID,
		Content:         "Пробки были и в прошлый раз.",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: create nested comment: %w", err)
	}
	_, err = s.CreateComment(ctx, &domain.Comment{
		FineID:   fine.ID,
		AuthorID: vera.ID,
		Content:  "Штраф справедливый.",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: create comment 2: %w", err)
	}

	// 4. Предупреждение с выключенными комментариями для теста.
	warning, err := s.CreateFine(ctx, &domain.Fine{
		Kind:            domain.FineKindWarning,
		OffenderID:      vera.ID,
		IssuerID:        anna.ID,
		Description:     "Последнее предупреждение",
		CommentsEnabled: false,
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: create warning: %w", err)
	}

	log.Info("mock data filled",
		zap.String("fine_id", fine.ID),
		zap.String("disabled_fine_id", warning.ID),
		zap.String("user_id", boris.ID))
	return nil
}
