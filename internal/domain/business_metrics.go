package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	Platform   Platform
	UserID     *int64
	GuildID    *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventPersonaCreated фиксирует создание персоны.
	BusinessMetricEventPersonaCreated = "persona_created"
	// BusinessMetricEventPersonaReset фиксирует сброс персоны после простоя.
	BusinessMetricEventPersonaReset = "persona_reset"
	// BusinessMetricEventTopicAdded фиксирует добавление темы дайджеста.
	BusinessMetricEventTopicAdded = "digest_topic_added"
	// BusinessMetricEventDigestDelivered фиксирует успешную доставку дайджеста пользователю.
	BusinessMetricEventDigestDelivered = "digest_delivered"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
