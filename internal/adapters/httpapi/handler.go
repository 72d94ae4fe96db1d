package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-radar/internal/domain"
)

// StatsSource отдаёт сводку по платформе.
type StatsSource interface {
	GetPlatformStats(ctx context.Context, platform string) (domain.PlatformStats, error)
}

// ProgressSource — чтение прогресса задач сбора.
type ProgressSource interface {
	GetCrawlTask(ctx context.Context, taskID string) (domain.CrawlTask, error)
	ListKeywordProgress(ctx context.Context, taskID string) ([]domain.KeywordProgress, error)
	GetCheckpoint(ctx context.Context, taskID, keyword string, page int) (domain.Checkpoint, error)
}

// Handler — HTTP API только для чтения плюс постановка задач анализа.
type Handler struct {
	stats    StatsSource
	progress ProgressSource
	queue    domain.AnalysisQueue
	log      zerolog.Logger
	now      domain.Clock
}

// NewHandler создаёт обработчик; queue может быть nil — тогда постановка задач отключена.
func NewHandler(stats StatsSource, progress ProgressSource, queue domain.AnalysisQueue, logger zerolog.Logger) *Handler {
	return &Handler{
		stats:    stats,
		progress: progress,
		queue:    queue,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mount регистрирует маршруты на роутере.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/platforms", h.listPlatforms)
		r.Get("/platforms/{platform}/stats", h.platformStats)
		r.Post("/platforms/{platform}/analysis", h.enqueueAnalysis)
		r.Get("/tasks/{taskID}", h.task)
		r.Get("/tasks/{taskID}/keywords", h.keywords)
		r.Get("/tasks/{taskID}/checkpoints/{keyword}/{page}", h.checkpoint)
	})
}

func (h *Handler) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": domain.SupportedPlatforms()})
}

func (h *Handler) platformStats(w http.ResponseWriter, r *http.Request) {
	mapping, err := domain.LookupPlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.stats.GetPlatformStats(r.Context(), mapping.Platform)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type analysisRequest struct {
	ContentIDs    []string `json:"content_ids"`
	SourceKeyword string   `json:"source_keyword"`
}

func (h *Handler) enqueueAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis queue is not configured")
		return
	}
	mapping, err := domain.LookupPlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer r.Body.Close()
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids := make([]string, 0, len(req.ContentIDs))
	for _, id := range req.ContentIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "content_ids is required")
		return
	}
	job := domain.AnalysisJob{
		ID:            uuid.NewString(),
		Platform:      mapping.Platform,
		ContentIDs:    ids,
		SourceKeyword: strings.TrimSpace(req.SourceKeyword),
		RequestedAt:   h.now(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("job_id", job.ID).Str("platform", job.Platform).Int("items", len(ids)).Msg("api: задача анализа поставлена")
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) task(w http.ResponseWriter, r *http.Request) {
	task, err := h.progress.GetCrawlTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) keywords(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := h.progress.GetCrawlTask(r.Context(), taskID); err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.progress.ListKeywordProgress(r.Context(), taskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.KeywordProgress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "keywords": list})
}

func (h *Handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	cp, err := h.progress.GetCheckpoint(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "keyword"), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsConfigError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("api: ошибка обработки запроса")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
