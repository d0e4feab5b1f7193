// cmd/navigator/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loan-navigator/internal/audit"
	"loan-navigator/internal/branches"
	"loan-navigator/internal/branches/policyretrieval"
	"loan-navigator/internal/branches/simulation"
	"loan-navigator/internal/branches/sqlanalyst"
	"loan-navigator/internal/common/aws"
	"loan-navigator/internal/common/config"
	"loan-navigator/internal/common/database"
	apperrors "loan-navigator/internal/common/errors"
	"loan-navigator/internal/common/logger"
	"loan-navigator/internal/common/observability"
	"loan-navigator/internal/escalation"
	"loan-navigator/internal/genai"
	"loan-navigator/internal/intent"
	"loan-navigator/internal/models"
	"loan-navigator/internal/orchestrator"
	"loan-navigator/internal/synthesizer"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting loan navigator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init audit sink ---
	var sink audit.Sink
	if cfg.Audit.UseMemory {
		sink = audit.NewMemorySink()
		zapLog.Info("Audit trail using in-memory sink")
	} else {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		sink = audit.NewRedisSink(redisClient.Client, cfg.Audit.Stream, cfg.Audit.MaxLen)
		zapLog.Info("Redis connected successfully")
	}
	recorder := audit.NewRecorder(sink, log)
	defer recorder.Close()

	// --- Wire components ---
	genaiClient := genai.NewClient(&genai.Config{
		BaseURL:    cfg.GenAI.BaseURL,
		APIKey:     cfg.GenAI.APIKey,
		Timeout:    time.Duration(cfg.GenAI.Timeout) * time.Millisecond,
		MaxRetries: cfg.GenAI.MaxRetries,
	}, log)

	classifier, err := intent.NewClassifier(genaiClient, log)
	if err != nil {
		zapLog.Fatal("classifier init failed", zap.Error(err))
	}

	branchSet := []branches.Branch{
		sqlanalyst.New(&sqlanalyst.Config{
			Timeout: time.Duration(cfg.Branches.SQL.Timeout) * time.Millisecond,
		}, pg.DB, log),
		policyretrieval.New(&policyretrieval.Config{
			Index:    cfg.Branches.Policy.Index,
			TopK:     cfg.Branches.Policy.TopK,
			MinScore: cfg.Branches.Policy.MinScore,
			Timeout:  time.Duration(cfg.Branches.Policy.Timeout) * time.Millisecond,
		}, esClient.Client, log),
		simulation.New(&simulation.Config{
			MinTopupAmount: cfg.Branches.Simulation.MinTopupAmount,
		}, log),
	}

	synth := synthesizer.New(&synthesizer.Config{
		PreferPrimary: cfg.Synthesizer.PreferPrimary,
		MaxTokens:     cfg.Synthesizer.MaxTokens,
		Temperature:   cfg.Synthesizer.Temperature,
	}, genaiClient, log)

	var escalator orchestrator.Escalator
	if cfg.Escalation.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Escalation.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		escalator = escalation.NewNotifier(&escalation.Config{
			TopicARN: cfg.Escalation.TopicARN,
		}, snsClient, log)
		zapLog.Info("Escalation notifier enabled")
	}

	orch := orchestrator.New(&orchestrator.Config{
		BranchTimeout:  cfg.Orchestrator.BranchTimeoutDuration(),
		RequestTimeout: cfg.Orchestrator.RequestTimeoutDuration(),
	}, classifier, branchSet, synth, recorder, escalator, log)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", handleQuery(orch, obs, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		code := http.StatusOK
		if err := pg.Ping(r.Context()); err != nil {
			status = "degraded: datastore unreachable"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown error", zap.Error(err))
	}

	zapLog.Info("Loan navigator stopped gracefully")
}

type queryRequest struct {
	RequestID string        `json:"requestId,omitempty"`
	Query     string        `json:"query"`
	History   []models.Turn `json:"history,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleQuery is the single request entrypoint. Unhandled and degraded
// answers are 200s; only total failure maps to 502.
func handleQuery(orch *orchestrator.Orchestrator, obs *observability.Observability, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Code:    "BAD_REQUEST",
				Message: "body must be JSON with a non-empty \"query\" field",
			})
			return
		}

		requestID := req.RequestID
		if requestID == "" {
			requestID = uuid.NewString()
		}

		start := time.Now()
		answer, err := orch.Handle(r.Context(), models.Query{
			RequestID: requestID,
			Text:      req.Query,
			History:   req.History,
		})
		if err != nil {
			code := string(apperrors.ErrCodeOrchestrationFailed)
			var stdErr *apperrors.StandardError
			if errors.As(err, &stdErr) {
				code = string(stdErr.Code)
			}
			obs.RecordQueryProcessed(r.Context(), "failed")
			obs.RecordQueryDuration(r.Context(), time.Since(start), "failed")
			log.Error("Query failed", map[string]interface{}{
				"request_id": requestID,
				"code":       code,
			})
			writeJSON(w, http.StatusBadGateway, errorResponse{
				Code:    code,
				Message: "the request could not be answered; it has been escalated",
			})
			return
		}

		outcome := "success"
		if answer.Degraded {
			outcome = "degraded"
		}
		obs.RecordQueryProcessed(r.Context(), outcome)
		obs.RecordQueryDuration(r.Context(), time.Since(start), outcome)

		writeJSON(w, http.StatusOK, answer)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
