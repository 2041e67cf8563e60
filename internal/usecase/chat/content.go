package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"

	"grok-bot/internal/domain"
)

const jpegQuality = 85

// BuildUserContent собирает мультимодальное сообщение: текст с префиксом "[id]: "
// и картинки как data URL в JPEG. Картинки обрабатываются в отдельных горутинах;
// битые вложения пропускаются.
func (s *Service) BuildUserContent(ctx context.Context, text string, userID int64, images []domain.Image) []domain.ContentPart {
	parts := []domain.ContentPart{domain.TextPart(domain.UserPrefix(userID) + text)}
	if len(images) == 0 {
		return parts
	}

	type result struct {
		url string
		err error
	}
	results := make([]chan result, len(images))
	for i, img := range images {
		ch := make(chan result, 1)
		results[i] = ch
		if !strings.HasPrefix(img.ContentType, "image/") {
			ch <- result{err: fmt.Errorf("неподдерживаемый тип %q", img.ContentType)}
			continue
		}
		go func(data []byte) {
			url, err := ImageToDataURL(data)
			ch <- result{url: url, err: err}
		}(img.Data)
	}

	for i, ch := range results {
		select {
		case r := <-ch:
			if r.err != nil {
				s.log.Warn().Err(r.err).Int("image", i).Msg("chat: вложение пропущено")
				continue
			}
			parts = append(parts, domain.ImagePart(r.url))
		case <-ctx.Done():
			return parts
		}
	}
	return parts
}

// ImageToDataURL перекодирует картинку в JPEG data URL.
// У анимированного GIF берётся кадр из середины.
func ImageToDataURL(data []byte) (string, error) {
	img, err := decodeStill(data)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("кодирование jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeStill(data []byte) (image.Image, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("формат картинки: %w", err)
	}
	if format == "gif" {
		anim, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("разбор gif: %w", err)
		}
		return middleFrame(anim)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("разбор картинки: %w", err)
	}
	return img, nil
}

// middleFrame собирает кадр n/2 с учётом способов очистки предыдущих кадров.
func middleFrame(anim *gif.GIF) (image.Image, error) {
	if len(anim.Image) == 0 {
		return nil, errors.New("gif без кадров")
	}
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	target := len(anim.Image) / 2
	for i := 0; i <= target; i++ {
		frame := anim.Image[i]
		var previous *image.RGBA
		disposal := byte(0)
		if i < len(anim.Disposal) {
			disposal = anim.Disposal[i]
		}
		if disposal == gif.DisposalPrevious && i < target {
			previous = image.NewRGBA(bounds)
			draw.Draw(previous, bounds, canvas, bounds.Min, draw.Src)
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if i == target {
			break
		}
		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return canvas, nil
}

// flatten кладёт картинку на белый фон: в JPEG нет прозрачности.
func flatten(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, bounds, img, bounds.Min, draw.Over)
	return out
}
