package repo

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"grok-bot/internal/domain"
)

type toolError struct{ tool string }

func (e *toolError) Error() string { return "tool " + e.tool + " failed" }

func TestErrorTypeUnwrapsChain(t *testing.T) {
	err := fmt.Errorf("chat: %w", fmt.Errorf("execute: %w", &toolError{tool: "calculator"}))
	if got := errorType(err); got != "*repo.toolError" {
		t.Fatalf("ожидали тип самой глубокой ошибки, получили %s", got)
	}
	if got := errorType(errors.New("plain")); got != "*errors.errorString" {
		t.Fatalf("неожиданный тип %s", got)
	}
}

func TestNotFoundMapsNoRows(t *testing.T) {
	if !errors.Is(notFound(pgx.ErrNoRows), domain.ErrNotFound) {
		t.Fatalf("pgx.ErrNoRows должен превращаться в ErrNotFound")
	}
	other := errors.New("conn reset")
	if notFound(other) != other {
		t.Fatalf("прочие ошибки не меняются")
	}
	if nullable(0) != nil || nullable(5) != int64(5) {
		t.Fatalf("nullable: 0 это NULL")
	}
}

func TestSummaryUpsertNeverMovesBackwards(t *testing.T) {
	sql := strings.Join(strings.Fields(upsertSummarySQL), " ")
	if !strings.Contains(sql, "ON CONFLICT (channel_id) DO UPDATE") {
		t.Fatalf("сводка должна сохраняться upsert-ом: %s", sql)
	}
	if !strings.HasSuffix(sql, "WHERE summaries.last_msg_id <= excluded.last_msg_id") {
		t.Fatalf("обновление с меньшим last_msg_id должно отбрасываться: %s", sql)
	}
}
