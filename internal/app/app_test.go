package app

import (
	"testing"

	"grok-bot/internal/domain"
)

func TestDigestQueueKeyIsPerPlatform(t *testing.T) {
	discord := DigestQueueKey("digest_jobs", domain.PlatformDiscord)
	telegram := DigestQueueKey("digest_jobs", domain.PlatformTelegram)
	if discord == telegram {
		t.Fatalf("очереди площадок должны различаться: %s", discord)
	}
	if discord != "digest_jobs:discord" || telegram != "digest_jobs:telegram" {
		t.Fatalf("неожиданные ключи: %s, %s", discord, telegram)
	}
}
