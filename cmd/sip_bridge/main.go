package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arzzra/sip_bridge/pkg/api"
	"github.com/arzzra/sip_bridge/pkg/bridge"
	"github.com/arzzra/sip_bridge/pkg/config"
	"github.com/arzzra/sip_bridge/pkg/logger"
	"github.com/arzzra/sip_bridge/pkg/rtprelay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		httpAddr   = flag.String("http", "", "HTTP listen address (overrides config)")
		logLevel   = flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
		dial       = flag.String("dial", "", "Place one call to this number and exit instead of serving HTTP")
		room       = flag.String("room", "cli", "Room name for -dial")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup(os.Stderr, "info", "text")
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logger.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *dial, *room); err != nil {
		log.Error("Bridge stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, dial, room string) error {
	relayCfg, err := cfg.Relay()
	if err != nil {
		return err
	}
	relay, err := rtprelay.New(relayCfg, log)
	if err != nil {
		return err
	}
	defer relay.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := bridge.NewManager(cfg.Settings(), relay,
		bridge.WithLogger(log),
		bridge.WithMetrics(bridge.NewMetrics(reg)))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("Calls still running at exit", slog.String("error", err.Error()))
		}
	}()

	if dial != "" {
		return dialOnce(ctx, manager, cfg, dial, room)
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	server := api.NewServer(ctx, manager,
		api.WithLogger(log),
		api.WithDefaultCallerID(cfg.DefaultCallerID()),
		api.WithMetrics(reg))

	log.Info("Starting SIP bridge",
		slog.String("carrier", net.JoinHostPort(cfg.SIP.Host, strconv.Itoa(cfg.SIP.Port))),
		slog.String("http", cfg.HTTPAddr),
		slog.Int("rtpPortMin", int(cfg.RTP.PortMin)),
		slog.Int("rtpPortMax", int(cfg.RTP.PortMax)))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// dialOnce places a single call and prints its result as JSON
func dialOnce(ctx context.Context, manager *bridge.Manager, cfg *config.Config, number, room string) error {
	task, err := manager.Start(ctx, bridge.CallRequest{
		ToNumber:  number,
		RoomName:  room,
		SIPConfig: bridge.SIPConfig{ExotelNumber: cfg.DefaultCallerID()},
	})
	if err != nil {
		return err
	}

	result, err := task.Wait(context.Background())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
