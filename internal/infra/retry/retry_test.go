package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestDoRetriesWithBackoff(t *testing.T) {
	delays := stubSleep(t)
	calls := 0
	err := Do(context.Background(), zerolog.Nop(), "op", Default(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("ожидали %d пауз, получили %v", len(want), *delays)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("пауза %d: ожидали %v, получили %v", i, d, (*delays)[i])
		}
	}
}

func TestDoGivesUpAfterRetries(t *testing.T) {
	stubSleep(t)
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), zerolog.Nop(), "op", Default(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали исходную ошибку, получили %v", err)
	}
	if calls != 4 {
		t.Fatalf("ожидали 4 попытки, получили %d", calls)
	}
}

func TestDoSkipsNonTransient(t *testing.T) {
	delays := stubSleep(t)
	calls := 0
	p := Default()
	p.Retryable = func(err error) bool { return err.Error() == "transient" }
	err := Do(context.Background(), zerolog.Nop(), "op", p, func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if err == nil || calls != 1 || len(*delays) != 0 {
		t.Fatalf("неповторяемая ошибка не должна повторяться: calls=%d err=%v", calls, err)
	}

	calls = 0
	err = Do(context.Background(), zerolog.Nop(), "op", Default(), func(context.Context) error {
		calls++
		return Permanent(errors.New("denied"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("Permanent не должна повторяться: calls=%d", calls)
	}
}
