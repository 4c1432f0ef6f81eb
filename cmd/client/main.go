package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/zwy2021/ChatRoom/internal/chat"
	"github.com/zwy2021/ChatRoom/internal/config"
)

var version = "1.0.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:])
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, context.Canceled):
	default:
		fmt.Fprintf(os.Stderr, "chatroom-client: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg := config.Default()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("chatroom-client", flag.ContinueOnError)
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "server address")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "server port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("chatroom-client %s\n", version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries chat text only.
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "connecting to %s, type %q to leave\n", cfg.Addr(), chat.QuitLine)
	}
	return chat.NewClient(cfg.Addr(), logger).Run(ctx)
}
