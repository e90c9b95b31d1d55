package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "mailtriage/contracts/mq"
	"mailtriage/internal/api"
	"mailtriage/internal/classify"
	"mailtriage/internal/config"
	"mailtriage/internal/engine"
	"mailtriage/internal/mqhandler"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/mq"
	"mailtriage/pkg/util"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the triage engine with its HTTP API and MQ consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log := logger.NewLogger(cfg.Log)
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

type consumerSpec struct {
	routingKey string
	handler    mq.MessageHandler
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting triage service...",
		zap.String("port", cfg.Server.Port),
		zap.String("classifier_url", cfg.Classifier.URL),
		zap.Bool("db_enabled", cfg.DB.Enabled()),
		zap.Bool("mq_enabled", cfg.MQ.URL != ""),
	)

	// Storage
	store, pool, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// Redis（可选）
	rdb, err := openRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	var (
		deduper  mqhandler.Deduper
		attempts engine.AttemptCounter
	)
	if rdb != nil {
		defer rdb.Close()
		deduper = util.NewDeduper(rdb, cfg.Redis.DedupTTL, log)
		attempts = util.NewRetryCounter(rdb, cfg.Redis.RetryTTL)
	}

	// Engine
	eng := engine.New(cfg.Engine, store, log)
	if err := eng.Load(ctx); err != nil {
		return err
	}
	engineCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Engine stopped with error", zap.Error(err))
		}
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	// Classifier
	breaker := circuitbreaker.NewCircuitBreaker(cfg.Classifier.Breaker, log)
	client := classify.NewHTTPClient(cfg.Classifier.URL, cfg.Classifier.Timeout, breaker, log)
	dispatcher := classify.NewDispatcher(client, cfg.Classifier.Dispatcher, log)
	pipeline := engine.NewPipeline(eng, dispatcher, attempts, cfg.Classifier.MaxAttempts, log)

	// MQ（可选）：通知出口 + 入站事件
	var (
		notices   engine.NoticePublisher
		consumers []*mq.Consumer
		checks    []api.ReadyCheck
	)
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer publisher.Close()
		notices = publisher
		checks = append(checks, api.ReadyCheck{Name: "mq", Check: func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher disconnected")
			}
			return nil
		}})

		emailHandler := mqhandler.NewEmailHandler(eng, pipeline, deduper, log)
		actionHandler := mqhandler.NewActionHandler(eng, deduper, log)
		specs := []consumerSpec{
			{mqcontracts.RoutingEmailReceived, emailHandler.HandleReceived},
			{mqcontracts.RoutingEmailDeleted, emailHandler.HandleDeleted},
			{mqcontracts.RoutingTriageAction, actionHandler.Handle},
		}
		for _, s := range specs {
			queue := "triage." + s.routingKey + ".q"
			log.Info("Initializing MQ consumer...",
				zap.String("queue", queue),
				zap.String("routing_key", s.routingKey),
			)
			c, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Exchange, queue, s.routingKey, cfg.MQ.Prefetch, log)
			if err != nil {
				return fmt.Errorf("init consumer %s: %w", s.routingKey, err)
			}
			defer c.Close()
			c.SetHandler(s.handler)
			c.SetDeadLetter(publisher)
			consumers = append(consumers, c)
		}
	}
	if pool != nil {
		checks = append(checks, api.ReadyCheck{Name: "db", Check: func(ctx context.Context) error { return pool.Ping(ctx) }})
	}
	if rdb != nil {
		checks = append(checks, api.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}

	// HTTP
	handlers := api.Handlers{
		Tasks:    api.NewTaskHandler(eng, log),
		Feedback: api.NewFeedbackHandler(eng, log),
		Emails:   api.NewEmailHandler(eng, pipeline, log),
	}
	srv := api.NewRouter(handlers, cfg.JWT.Secret, checks, log).Server(cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pipeline.Run(gctx, cfg.Classifier.PollInterval)
		return nil
	})
	g.Go(func() error {
		engine.NewOrchestrator(eng, notices, log).Run(gctx, cfg.TickInterval)
		return nil
	})
	for _, c := range consumers {
		c := c
		g.Go(func() error {
			return c.StartConsuming(gctx)
		})
	}
	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("triage service is fully initialized and running")
	err = g.Wait()

	// 协调器退出时已做最后一次落库，这里只汇报仍未写入的变更
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if ferr := eng.Flush(flushCtx); ferr != nil {
		log.Error("Failed to flush pending changes", zap.Error(ferr))
	}
	if err != nil {
		log.Error("triage service stopped with error", zap.Error(err))
		return err
	}
	log.Info("triage service shutdown complete")
	return nil
}

// 编译期检查
var _ engine.AttemptCounter = (*util.RetryCounter)(nil)
