package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CrawlPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_pages_total",
		Help: "Запрошенные страницы поиска по статусу",
	}, []string{"platform", "status"})

	CrawlItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_items_total",
		Help: "Элементы контента по исходу обработки",
	}, []string{"platform", "outcome"})

	ProgressErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_progress_errors_total",
		Help: "Ошибки записи прогресса сбора",
	}, []string{"platform", "operation"})

	AnalysisBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_batches_total",
		Help: "Пачки, отправленные на анализ, по статусу",
	}, []string{"platform", "status"})

	AnalysisFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_fallback_results_total",
		Help: "Результаты-заглушки по причине",
	}, []string{"reason"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	LLMCostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cost_usd_total",
		Help: "Оценка стоимости вызовов LLM в долларах",
	}, []string{"model"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CrawlPagesTotal,
		CrawlItemsTotal,
		ProgressErrorsTotal,
		AnalysisBatchesTotal,
		AnalysisFallbackTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		LLMCostTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveLLMCost добавляет стоимость вызова.
func ObserveLLMCost(model string, cost float64) {
	if cost <= 0 {
		return
	}
	LLMCostTotal.WithLabelValues(model).Add(cost)
}

// ObservePage учитывает запрос страницы поиска.
func ObservePage(platform, status string) {
	CrawlPagesTotal.WithLabelValues(platform, status).Inc()
}

// ObserveItems учитывает элементы по исходу: new, duplicate, failed.
func ObserveItems(platform, outcome string, n int) {
	if n <= 0 {
		return
	}
	CrawlItemsTotal.WithLabelValues(platform, outcome).Add(float64(n))
}

// ObserveProgressError учитывает сбой записи прогресса.
func ObserveProgressError(platform, operation string) {
	ProgressErrorsTotal.WithLabelValues(platform, operation).Inc()
}

// ObserveBatch учитывает пачку анализа.
func ObserveBatch(platform, status string) {
	AnalysisBatchesTotal.WithLabelValues(platform, status).Inc()
}

// ObserveFallback учитывает результаты-заглушки.
func ObserveFallback(reason string, n int) {
	if n <= 0 {
		return
	}
	AnalysisFallbackTotal.WithLabelValues(reason).Add(float64(n))
}
