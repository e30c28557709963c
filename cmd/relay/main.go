// Command relay launches the event-ingestion relay core: the
// EnvelopeManager, its project-configuration cache, the shared quota
// oracle, and a minimal HTTP front door for health checks and envelope
// submission.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/internal/config"
	"github.com/coachpo/relaycore/internal/manager"
	"github.com/coachpo/relaycore/internal/observability"
	"github.com/coachpo/relaycore/internal/pool"
	"github.com/coachpo/relaycore/internal/project"
	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/internal/telemetry"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

const (
	defaultConfigPath       = "config/relay.yaml"
	relayLoggerPrefix       = "relay "
	shutdownTimeout         = 30 * time.Second
	httpServerShutdown      = 5 * time.Second
	managerShutdownTimeout  = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	deadLetterQueueCapacity = 1000
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newRelayLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	configPath := resolveConfigPath(cfgPathFlag)
	runtimeCfg, err := config.Load(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, cpu_concurrency=%d, envelope_buffer_size=%d",
		runtimeCfg.Environment, runtimeCfg.CPUConcurrency, runtimeCfg.EnvelopeBufferSize)

	telemetryProvider, err := telemetry.NewProvider(ctx, runtimeCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	oracle := quota.NewTokenBucketOracle(quota.Quotas{})
	metrics := observability.NewRuntimeMetrics()

	telemetryBus := observability.NewInMemoryTelemetryBus(runtimeCfg.EnvelopeBufferSize)
	deadLetterQueue := observability.NewDeadLetterQueue(deadLetterQueueCapacity)
	go drainTelemetry(telemetryBus, logger)

	fetcher := manager.RetryingFetcher{Underlying: project.NewStaticFetcher(nil)}
	cache := project.NewCache(fetcher, runtimeCfg.ProjectCacheSweepInterval)
	defer cache.Close()

	mgr := manager.New(cache, oracle, runtimeCfg.EnvelopeBufferSize, runtimeCfg.CPUConcurrency, runtimeCfg.EnvelopeBufferExpiry, metrics, telemetryBus, deadLetterQueue, telemetryProvider)

	poolMgr := pool.NewPoolManager()
	if err := manager.RegisterRequestBufferPool(poolMgr, runtimeCfg.EnvelopeBufferSize, runtimeCfg.MaxEventSize); err != nil {
		logger.Fatalf("register request buffer pool: %v", err)
	}

	server := buildHTTPServer(mgr, poolMgr, logger)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server: %v", err)
		}
	}()
	logger.Printf("relay listening on %s", server.Addr)

	logger.Print("relay started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	gracefulShutdown(shutdownCtx, logger, server, mgr, poolMgr, telemetryProvider, telemetryBus, deadLetterQueue)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

// drainTelemetry consumes telemetry events published by the pipeline and
// manager for as long as the bus stays open, logging each one; a real
// deployment wires this to the out-of-scope observability backend instead.
func drainTelemetry(bus *observability.InMemoryTelemetryBus, logger *log.Logger) {
	events, err := bus.Subscribe(context.Background())
	if err != nil {
		logger.Printf("telemetry: subscribe failed: %v", err)
		return
	}
	for event := range events {
		logger.Printf("telemetry: type=%s severity=%s metadata=%v", event.Type, event.Severity, event.Metadata)
	}
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to relay configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRelayLogger() *log.Logger {
	return log.New(os.Stdout, relayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return defaultConfigPath
}

func buildHTTPServer(mgr *manager.Manager, poolMgr *pool.PoolManager, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/api/envelope", handleEnvelope(mgr, poolMgr, logger))

	return &http.Server{
		Addr:              ":8080",
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// submissionSink discards outcomes into the request-scoped logger; a real
// deployment wires this to the out-of-scope outcome aggregator.
type submissionSink struct{ logger *log.Logger }

func (s submissionSink) Record(o outcome.Outcome) {
	if s.logger != nil {
		s.logger.Printf("outcome: %s category=%s quantity=%d", o.Kind, o.Category, o.Quantity)
	}
}

// submissionRequest is the minimal JSON shape accepted at the HTTP
// boundary. Full multipart envelope framing (§6) is an external
// ingestion concern; this handler exists to exercise the manager's
// Submit contract end to end.
type submissionRequest struct {
	ProjectID uint64 `json:"project_id"`
	PublicKey string `json:"public_key"`
	EventJSON []byte `json:"event_json"`
}

func handleEnvelope(mgr *manager.Manager, poolMgr *pool.PoolManager, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		pooled, acquired, err := poolMgr.TryGet(manager.RequestBufferPoolName)
		if err != nil {
			http.Error(w, "buffer pool unavailable", http.StatusServiceUnavailable)
			return
		}

		var req submissionRequest
		if acquired {
			buf := pooled.(*manager.RequestBuffer)
			defer func() { _, _ = poolMgr.TryPut(manager.RequestBufferPoolName, buf) }()
			raw, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				http.Error(w, "malformed request", http.StatusBadRequest)
				return
			}
			buf.Bytes = append(buf.Bytes[:0], raw...)
			if err := json.Unmarshal(buf.Bytes, &req); err != nil {
				http.Error(w, "malformed request", http.StatusBadRequest)
				return
			}
		} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if req.ProjectID == 0 || req.PublicKey == "" {
			http.Error(w, "project_id and public_key are required", http.StatusBadRequest)
			return
		}

		env := envelope.New(envelope.RequestMeta{OriginAddr: r.RemoteAddr})
		env.AddItem(envelope.NewItem(envelope.KindEvent, req.EventJSON))

		key := project.Key{ProjectID: req.ProjectID, PublicKey: req.PublicKey}
		scoping := scope.Scoping{ProjectID: req.ProjectID, ProjectKey: req.PublicKey}

		resultCh, err := mgr.Submit(r.Context(), env, key, scoping, r.RemoteAddr, time.Now(), submissionSink{logger: logger})
		if err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}

		select {
		case res := <-resultCh:
			if res.Err != nil {
				http.Error(w, string(res.Err.Code), pipelineErrorStatus(res.Err.Code))
				return
			}
			if res.HasFlushedMetrics {
				for _, point := range res.FlushedMetrics.Render() {
					logger.Printf("derived metric: %s=%v tags=%v", point.Identifier, point.Value, point.Tags)
				}
			}
			w.WriteHeader(http.StatusAccepted)
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
	}
}

// pipelineErrorStatus maps the closed error taxonomy (§7) to the HTTP
// boundary's generic 4xx/5xx split: everything non-Rejected collapses to
// 4xx here except Internal/Timeout/SerializeFailed, which are server-side
// failures.
func pipelineErrorStatus(code errs.Code) int {
	switch code {
	case errs.CodeInternal, errs.CodeTimeout, errs.CodeSerializeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func gracefulShutdown(ctx context.Context, logger *log.Logger, server *http.Server, mgr *manager.Manager, poolMgr *pool.PoolManager, telemetryProvider *telemetry.Provider, telemetryBus *observability.InMemoryTelemetryBus, deadLetterQueue *observability.DeadLetterQueue) {
	var stepErrs []error
	step := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("stopping http server", httpServerShutdown, server.Shutdown)
	step("draining envelope manager", managerShutdownTimeout, mgr.Shutdown)
	step("shutting down buffer pool", httpServerShutdown, poolMgr.Shutdown)
	if telemetryProvider != nil {
		step("shutting down telemetry", telemetryShutdownTimeout, telemetryProvider.Shutdown)
	}
	telemetryBus.Close()
	if dropped := deadLetterQueue.Len(); dropped > 0 {
		logger.Printf("shutdown: %d telemetry events undelivered in dead-letter queue", dropped)
	}

	if err := observability.AggregateErrors("graceful_shutdown", stepErrs); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
