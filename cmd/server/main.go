package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/zwy2021/ChatRoom/internal/admin"
	"github.com/zwy2021/ChatRoom/internal/chat"
	"github.com/zwy2021/ChatRoom/internal/config"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.1.0"
var version = "1.0.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "chatroom-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg := config.ServerDefault()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("chatroom-server", flag.ContinueOnError)
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "address to listen on")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "chat port")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "admin listen address (empty disables)")
	fs.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "frames queued for a slow peer before it is dropped")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("chatroom-server %s\n", version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		return err
	}

	srv := chat.NewServer(cfg.Addr(), logger, chat.WithMaxPending(cfg.MaxPending))
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}

	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	if cfg.MetricsAddr != "" {
		adm, err := admin.Listen(cfg.MetricsAddr, admin.NewRouter(srv, prometheus.DefaultGatherer), logger)
		if err != nil {
			srv.Stop()
			return fmt.Errorf("admin: %w", err)
		}
		go func() {
			if err := adm.Serve(adminCtx); err != nil {
				logger.Error("admin endpoint failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		srv.Stop()
		return nil
	case <-srv.Done():
		return srv.Err()
	}
}
