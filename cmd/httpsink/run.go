package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidoram/httpsink/adapter"
	"github.com/davidoram/httpsink/configuration"
	"github.com/davidoram/httpsink/core"
	"github.com/davidoram/httpsink/logging"
	"github.com/davidoram/httpsink/web"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func run(parent context.Context, cfgFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	v, err := configuration.NewViper(cfgFile)
	if err != nil {
		return err
	}
	cfg, err := configuration.New(v)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	slog.Info("starting httpsink", slog.String("url", cfg.HTTP.URL), slog.Any("topics", cfg.Kafka.Topics))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := core.NewMetrics(reg)

	sender, err := adapter.ConfigToHTTPSender(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("build sender: %w", err)
	}
	recordSender, err := adapter.ConfigToRecordSender(cfg, sender)
	if err != nil {
		return fmt.Errorf("build record sender: %w", err)
	}

	var db *sql.DB
	if cfg.Journal.Enabled {
		db, err = openJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		recordSender = core.NewJournal(db, recordSender).WithLogger(logger)
	}

	hctx := web.HandlerContext{
		Db:     db,
		Sender: adapter.CoreToViewSender(adapter.ConfigToCoreConfig(cfg), sender, cfg.Delivery.Converter),
	}
	adminMux := hctx.Routes(ctx)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	servers := []*http.Server{}
	if cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{Addr: cfg.AdminAddr, Handler: adminMux, ReadHeaderTimeout: 10 * time.Second})
	}
	if cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
	}

	sub := core.NewSubscription(cfg.Kafka.Topics, cfg.Kafka.GroupID, adapter.ConfigToCoreConfig(cfg), recordSender).WithLogger(logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			slog.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := sub.Run(gctx, cfg.Kafka.BootstrapServers)
		if err != nil {
			slog.Error("subscription stopped", slog.Any("error", err))
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("error shutting down server", slog.String("addr", srv.Addr), slog.Any("error", err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func openJournal(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := core.MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	slog.Info("journal open", slog.String("path", path))
	return db, nil
}
