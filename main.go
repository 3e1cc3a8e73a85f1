package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"telemetry-relay/archive"
	"telemetry-relay/config"
	"telemetry-relay/domain"
	"telemetry-relay/hub"
	"telemetry-relay/logging"
	"telemetry-relay/protocol"
	"telemetry-relay/version"
	ws "telemetry-relay/websocket"
)

const maxCommandBody = 1 << 20

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("telemetry-relay", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("no .env file found, using environment variables", "path", *envFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	registry := hub.New()
	opts := []protocol.Option{protocol.WithLogger(logger)}

	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		pool, err := archive.Connect(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer pool.Close()

		store := archive.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}

		archiver = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, store, logger)
		opts = append(opts, protocol.WithArchiver(archiver))
		g.Go(func() error { return archiver.Run(ctx) })
	}

	router := protocol.NewRouter(registry, cfg.Telemetry.Types, opts...)
	dispatcher := protocol.NewDispatcher(router, cfg.Server.EventBuffer)
	g.Go(func() error { return dispatcher.Run(ctx) })

	wsCfg := ws.Config{
		WriteWait:  cfg.Server.WriteWait,
		PongWait:   max(cfg.Server.PongWait, 0),
		ReadLimit:  cfg.Server.ReadLimit,
		SendBuffer: cfg.Server.SendBuffer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, ws.Handler(dispatcher, wsCfg))
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /stats", statsHandler(registry, router, archiver))
	mux.HandleFunc("POST /command", commandHandler(dispatcher))
	if dir := cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(dir)))
		} else {
			logger.Warn("static directory not found", "dir", dir)
		}
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	g.Go(func() error {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"ws_path", cfg.Server.WSPath,
			"telemetry_types", cfg.Telemetry.Types,
			"version", version.String(),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

type statsResponse struct {
	Devices  int              `json:"devices"`
	Monitors int              `json:"monitors"`
	Router   protocol.Stats   `json:"router"`
	Archive  *archive.Metrics `json:"archive,omitempty"`
}

func statsHandler(registry *hub.Hub, router *protocol.Router, archiver *archive.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, monitors := registry.Stats()
		resp := statsResponse{
			Devices:  devices,
			Monitors: monitors,
			Router:   router.Stats(),
		}
		if archiver != nil {
			m := archiver.Stats()
			resp.Archive = &m
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// commandHandler accepts a JSON command and hands it to the dispatcher. No
// command is delivered to devices; the request is only acknowledged.
func commandHandler(sink domain.EventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		if len(body) > 0 && !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		if err := sink.Submit(domain.Event{Kind: domain.EventCommand, Data: body}); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
