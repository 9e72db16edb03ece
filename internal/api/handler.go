package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/inject"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *analysis.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *analysis.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// GenerateDatasetRequest is the request body for POST /datasets.
type GenerateDatasetRequest struct {
	MerchantCount int      `json:"merchant_count"`
	FraudFraction float64  `json:"fraud_fraction"`
	Patterns      []string `json:"patterns,omitempty"`
	Days          int      `json:"days,omitempty"`
	Seed          *uint64  `json:"seed,omitempty"`
}

// GenerateDatasetResponse is the response for POST /datasets.
type GenerateDatasetResponse struct {
	DatasetID        string          `json:"dataset_id"`
	Seed             uint64          `json:"seed"`
	MerchantCount    int             `json:"merchant_count"`
	TransactionCount int             `json:"transaction_count"`
	Labels           []dataset.Label `json:"labels"`
	Metadata         struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// GenerateDataset handles POST /datasets.
func (h *Handler) GenerateDataset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req GenerateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	patterns := make([]inject.Pattern, 0, len(req.Patterns))
	for _, name := range req.Patterns {
		p, err := inject.ParsePattern(name)
		if err != nil {
			writeError(w, err)
			return
		}
		patterns = append(patterns, p)
	}

	res, err := h.svc.GenerateDataset(ctx, analysis.GenerateRequest{
		MerchantCount: req.MerchantCount,
		FraudFraction: req.FraudFraction,
		Patterns:      patterns,
		Days:          req.Days,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := GenerateDatasetResponse{
		DatasetID:        res.DatasetID,
		Seed:             res.Seed,
		MerchantCount:    len(res.Dataset.Merchants),
		TransactionCount: len(res.Dataset.Transactions),
		Labels:           res.Dataset.Labels,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// ListMerchants handles GET /merchants.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	merchants, err := h.repo.ListMerchants(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchants": merchants,
		"count":     len(merchants),
		"skip":      skip,
		"limit":     limit,
	})
}

// GetMerchant handles GET /merchants/{id}.
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	m, err := h.repo.GetMerchant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetMerchantTransactions handles GET /merchants/{id}/transactions.
func (h *Handler) GetMerchantTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	rng, err := timeRange(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	skip, limit, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.repo.GetMerchant(ctx, merchantID); err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.repo.GetMerchantTransactions(ctx, merchantID, domain.TransactionFilter{
		Since:  rng.Start,
		Until:  rng.End,
		Offset: skip,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id":  merchantID,
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListTransactions handles GET /transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"skip":         skip,
		"limit":        limit,
	})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// CalculateRisk handles POST /merchants/{id}/risk-metrics. With async=true
// the request is queued for the worker and 202 is returned.
func (h *Handler) CalculateRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	days, err := queryInt(r, "lookback_days", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if _, err := h.repo.GetMerchant(ctx, merchantID); err != nil {
			writeError(w, err)
			return
		}
		req := domain.RiskRequest{MerchantID: merchantID, LookbackDays: days, TraceID: GetTraceID(ctx)}
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicRiskRequested, req); err != nil {
			slog.Error("failed to queue risk request", "merchant_id", merchantID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "failed to queue risk request",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, req)
		return
	}

	res, err := h.svc.CalculateRisk(ctx, merchantID, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LatestRisk handles GET /merchants/{id}/risk-metrics/latest.
func (h *Handler) LatestRisk(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.LatestRisk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RiskHistory handles GET /merchants/{id}/risk-metrics/history.
func (h *Handler) RiskHistory(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	days, err := queryInt(r, "days", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	history, err := h.svc.RiskHistory(r.Context(), merchantID, days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"metrics":     history,
		"count":       len(history),
	})
}

// GenerateSummaries handles POST /merchants/{id}/summaries.
func (h *Handler) GenerateSummaries(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	rng, err := timeRange(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.GenerateSummaries(r.Context(), merchantID, rng.Start, rng.End)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"summaries":   out,
		"count":       len(out),
	})
}

// ListSummaries handles GET /merchants/{id}/summaries.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	rng, err := timeRange(r, false)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.ListSummaries(r.Context(), merchantID, rng)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"summaries":   out,
		"count":       len(out),
	})
}

// DetectTimelineEvents handles POST /merchants/{id}/timeline-events.
func (h *Handler) DetectTimelineEvents(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	rng, err := timeRange(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.svc.DetectTimelineEvents(r.Context(), merchantID, rng.Start, rng.End, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"events":      events,
		"count":       len(events),
	})
}

// ListTimelineEvents handles GET /merchants/{id}/timeline-events.
func (h *Handler) ListTimelineEvents(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.svc.ListTimelineEvents(r.Context(), domain.TimelineFilter{
		MerchantID: merchantID,
		EventType:  q.Get("type"),
		Severity:   domain.Severity(strings.ToUpper(q.Get("severity"))),
		Limit:      min(limit, maxPageSize),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"events":      events,
		"count":       len(events),
	})
}

// MarkEventProcessed handles POST /timeline-events/{id}/processed.
func (h *Handler) MarkEventProcessed(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	if err := h.svc.MarkEventProcessed(r.Context(), eventID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        eventID,
		"processed": true,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.svc.ListRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates, stores and loads a rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.svc.CreateRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ReloadRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var configErr *domain.ConfigurationError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": configErr.Error(),
			"field": configErr.Field,
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, domain.NewConfigurationError(key, "must be an integer, got %q", value)
	}
	return i, nil
}

func pagination(r *http.Request) (skip, limit int, err error) {
	if skip, err = queryInt(r, "skip", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	if skip < 0 {
		return 0, 0, domain.NewConfigurationError("skip", "must not be negative")
	}
	if limit < 1 || limit > maxPageSize {
		return 0, 0, domain.NewConfigurationError("limit", "must be between 1 and %d", maxPageSize)
	}
	return skip, limit, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(key, value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, domain.NewConfigurationError(key, "must be RFC 3339 or YYYY-MM-DD, got %q", value)
}

// timeRange reads the start and end query parameters. A plain end date
// covers the whole day.
func timeRange(r *http.Request, required bool) (domain.TimeRange, error) {
	var rng domain.TimeRange
	q := r.URL.Query()

	for _, key := range []string{"start", "end"} {
		value := q.Get(key)
		if value == "" {
			if required {
				return rng, domain.NewConfigurationError(key, "is required")
			}
			continue
		}
		t, err := parseTime(key, value)
		if err != nil {
			return rng, err
		}
		if key == "start" {
			rng.Start = t
		} else {
			if len(value) == len(time.DateOnly) {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			rng.End = t
		}
	}
	return rng, nil
}
