package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mattn/go-colorable"
	"github.com/onchain-discgolf/scorecard"
	"golang.org/x/sync/errgroup"
)

var (
	issueFor string
	debug    bool
)

func loadConfig() scorecard.Config {
	path := os.Getenv("SCORECARD_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := scorecard.LoadConfig(path)
	if err != nil {
		slog.Error("load config failed", slog.Any("err", err))
		os.Exit(1)
	}

	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database path")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "http port")
	flag.StringVar(&cfg.MintURL, "mint", cfg.MintURL, "mint url used when none is active")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "secret for api tokens, empty disables auth")
	flag.StringVar(&issueFor, "issue-token", "", "print an api token for this subject and exit")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.Parse()

	return cfg
}

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(colorable.NewColorableStdout(), &slog.HandlerOptions{Level: level})))

	if issueFor != "" {
		if cfg.JWTSecret == "" {
			slog.Error("jwt secret required to issue tokens")
			os.Exit(1)
		}

		token, err := scorecard.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, issueFor, 30*24*time.Hour)
		if err != nil {
			slog.Error("issue token failed", slog.Any("err", err))
			os.Exit(1)
		}

		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	db, err := badger.Open(badger.DefaultOptions(cfg.DBPath))
	if err != nil {
		slog.Error("open db failed", slog.Any("err", err))
		return
	}
	defer db.Close()

	slog.Info("scorecard launch", "ver", "0.1.0")

	svr, err := scorecard.NewServer(db, scorecard.Deps{
		Transport: scorecard.NewMemTransport(),
		Mint:      offlineMint{},
	}, cfg)
	if err != nil {
		slog.Error("init server failed", slog.Any("err", err))
		return
	}

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: svr.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", slog.String("addr", s.Addr))
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return runGC(ctx, db, time.Minute)
	})

	g.Go(func() error {
		return svr.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scorecard stopped", slog.Any("err", err))
	}
}

func runGC(ctx context.Context, db *badger.DB, dur time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			_ = db.RunValueLogGC(0.7)
		}
	}
}
