package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"festpage/internal/app"
	"festpage/internal/commands"
	"festpage/internal/config"
	appLog "festpage/internal/log"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	out        string
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		os.Exit(commands.HashPassword(os.Args[2:]))
	}

	flags := parseFlags()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		appLog.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		appLog.Warn("failed to set GOMAXPROCS", "err", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Configure(appLog.ParseLevel(conf.LogLevel), conf.LogFormat, os.Stderr)
	appLog.Info("festpage starting", "version", version, "once", flags.once)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a := app.New(conf, app.Options{})

	if flags.once {
		if err := runOnce(ctx, a, flags.out); err != nil {
			appLog.Error("single pass failed", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Serve(ctx); err != nil {
		appLog.Error("festpage exited with error", err)
		os.Exit(1)
	}
	appLog.Info("festpage exiting")
}

// runOnce filters the page once and writes the result to out, or stdout
// when out is empty.
func runOnce(ctx context.Context, a *app.App, out string) error {
	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	rep, err := a.RunOnce(ctx, w)
	if err != nil {
		return err
	}
	appLog.Info("single pass done", "expired", rep.Expired, "sections", rep.SectionsExpired, "skipped", rep.Skipped, "out", out)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/festpage/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Filter the page once, print it and exit")
	flag.StringVar(&cfg.out, "out", "", "With -once, write the page to this file instead of stdout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: festpage [OPTIONS]\n       festpage hash-password [OPTIONS]\n\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}
