package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lisuiheng/webui-bridge-go/core"
	"github.com/lisuiheng/webui-bridge-go/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("webui-bridge", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to config file (default searches ./config.yaml, ./config, /etc/webui-bridge)")
	workers := flags.StringSlice("worker", nil, "Worker ids to subscribe to and print")
	registerFlags(flags)
	_ = flags.Parse(os.Args[1:])

	v := newViper(flags)
	cfg, err := loadConfig(v, *configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Info("Shutting down webui-bridge")

	reg := prometheus.NewRegistry()
	out := newLineWriter(os.Stdout)
	bridge, err := core.New(cfg, logger.Logger(),
		core.WithViewSink(out.viewSink()),
		core.WithMetrics(reg),
	)
	if err != nil {
		logger.Error("Failed to create bridge", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			logger.Error("Failed to close bridge", "error", err)
		}
	}()

	for _, id := range *workers {
		bridge.SubscribeToWorkerMessages(id, out.workerCallback(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := serveMetrics(ctx, cfg.Metrics.Addr, reg); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	bridge.Start()

	go func() {
		err := pumpInput(ctx, os.Stdin, bridge)
		switch {
		case err == nil:
			logger.Info("Input closed, bridge keeps running")
		case errors.Is(err, context.Canceled):
		default:
			logger.Error("Input loop failed", "error", err)
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}
}
