package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChatReplyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_reply_duration_seconds",
		Help:    "Время подготовки ответа в чате",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	ChatFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fallback_total",
		Help: "Ответы-заглушки при недоступности модели",
	}, []string{"platform"})
	ToolExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tool_executions_total",
		Help: "Вызовы инструментов",
	}, []string{"tool", "status"})
	SummaryUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_updates_total",
		Help: "Обновления сводок каналов",
	}, []string{"status"})
	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время построения дайджеста",
		Buckets: prometheus.DefBuckets,
	})
	DigestDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_deliveries_total",
		Help: "Попытки доставки дайджестов",
	}, []string{"cause", "status"})
	BotSendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	}, []string{"platform"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
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

	RetryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Повторы вызовов внешних API",
	}, []string{"operation"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ChatReplyDuration,
		ChatFallbacks,
		ToolExecutions,
		SummaryUpdates,
		DigestBuildSeconds,
		DigestDeliveries,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		RetryAttempts,
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
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
	st := status(err)
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, st).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, st).Inc()
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

// ObserveTool фиксирует результат вызова инструмента.
func ObserveTool(name string, err error) {
	ToolExecutions.WithLabelValues(name, status(err)).Inc()
}

// ObserveSummary фиксирует обновление сводки.
func ObserveSummary(err error) {
	SummaryUpdates.WithLabelValues(status(err)).Inc()
}

// ObserveDigestDelivery фиксирует попытку доставки дайджеста.
func ObserveDigestDelivery(cause string, delivered bool) {
	st := "skipped"
	if delivered {
		st = "delivered"
	}
	DigestDeliveries.WithLabelValues(cause, st).Inc()
}
