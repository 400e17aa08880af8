// Package runtime wires the daemon together: telemetry, bus, event
// store, recognizer bridge, session manager and the HTTP admin surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotoba-labs/kotoba-core/internal/bus"
	"github.com/kotoba-labs/kotoba-core/internal/config"
	"github.com/kotoba-labs/kotoba-core/internal/eventstore"
	"github.com/kotoba-labs/kotoba-core/internal/natsserver"
	"github.com/kotoba-labs/kotoba-core/internal/output"
	"github.com/kotoba-labs/kotoba-core/internal/refiner"
	"github.com/kotoba-labs/kotoba-core/internal/session"
	"github.com/kotoba-labs/kotoba-core/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	sttSvc   *stt.Service
	sessions *session.Manager
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded
	defer r.embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = busClient
	defer r.bus.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	defer r.store.Close()

	if err := r.startServices(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")

	r.sessions.Close()
	if r.sttSvc != nil {
		r.sttSvc.Close()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	if r.cfg.STT.Enabled {
		recognizer, err := r.buildRecognizer()
		if err != nil {
			return fmt.Errorf("failed to build recognizer: %w", err)
		}
		r.sttSvc = stt.NewService(ctx, r.cfg.STT, r.bus, recognizer, r.logger)
		if err := r.sttSvc.Start(); err != nil {
			return fmt.Errorf("failed to start stt service: %w", err)
		}
	}

	ref, err := refiner.FromConfig(r.cfg.Refiner)
	if err != nil {
		return fmt.Errorf("failed to build refiner: %w", err)
	}
	sink, err := output.FromConfig(r.cfg.Output, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build output sink: %w", err)
	}

	r.sessions = session.NewManager(ctx, r.cfg.Pipeline, r.bus, ref, sink, r.store, r.logger)
	if err := r.sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	return nil
}

func (r *Runtime) buildRecognizer() (stt.Recognizer, error) {
	switch r.cfg.STT.Mode {
	case "exec":
		return stt.NewExecRecognizer(r.cfg.STT)
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.sessions.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
