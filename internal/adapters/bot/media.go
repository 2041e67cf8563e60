package bot

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

const maxPhotoBytes = 20 << 20

// photos скачивает самое крупное превью фото. Ошибки только логируются.
func (h *Handler) photos(ctx context.Context, msg *tgbotapi.Message) []domain.Image {
	if len(msg.Photo) == 0 {
		return nil
	}
	largest := msg.Photo[len(msg.Photo)-1]
	data, err := h.download(ctx, largest.FileID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("telegram: не удалось скачать фото")
		return nil
	}
	return []domain.Image{{Data: data, ContentType: "image/jpeg"}}
}

func (h *Handler) download(ctx context.Context, fileID string) ([]byte, error) {
	start := time.Now()
	url, err := h.api.GetFileDirectURL(fileID)
	metrics.ObserveNetworkRequest("telegram_bot", "get_file", fileID, start, err)
	if err != nil {
		return nil, fmt.Errorf("ссылка на файл: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	start = time.Now()
	resp, err := h.http.Do(req)
	metrics.ObserveNetworkRequest("telegram_bot", "download_file", "api.telegram.org", start, err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("скачивание файла: статус %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}

func escape(s string) string { return html.EscapeString(s) }
