package digest

import (
	"strings"
	"unicode"

	"grok-bot/internal/domain"
	"grok-bot/internal/usecase/chunker"
)

// Маркеры протокола ответа модели.
const (
	markerTitle     = "SECTION_TITLE:"
	markerHeadlines = "HEADLINES_COVERED:"
	markerNothing   = "NO_NEW_DEVELOPMENTS"
)

// Тексты секций без новостей.
const (
	NoRecentNews      = "No recent news found."
	NoNewDevelopments = "No new developments since the last update."
)

// parsedSection хранит разобранный ответ модели по теме.
type parsedSection struct {
	Title     string
	Body      string
	Headlines []string
	Nothing   bool
}

// parseSection разбирает ответ модели. Отсутствие маркеров не ошибка:
// заголовок тогда берётся из темы.
func parseSection(topic, content string) parsedSection {
	out := parsedSection{Title: TitleCase(topic), Body: content}
	if strings.Contains(content, markerNothing) {
		out.Nothing = true
		out.Body = NoNewDevelopments
		return out
	}

	if strings.Contains(content, markerTitle) {
		first, rest, _ := strings.Cut(content, "\n")
		if _, title, ok := strings.Cut(first, markerTitle); ok {
			if t := strings.TrimSpace(title); t != "" {
				out.Title = t
			}
			out.Body = rest
		}
	}

	if body, tail, ok := strings.Cut(out.Body, markerHeadlines); ok {
		out.Body = strings.TrimSpace(body)
		for _, line := range strings.Split(strings.TrimSpace(tail), "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-"))
			if line != "" {
				out.Headlines = append(out.Headlines, line)
			}
		}
	}
	return out
}

// TitleCase делает заглавной первую букву каждого слова, остальные строчными.
func TitleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}

// sectionHeader форматирует заголовок секции под площадку.
func sectionHeader(platform domain.Platform, title string) string {
	if platform == domain.PlatformDiscord {
		return "### " + title + "\n"
	}
	return "*" + title + "*\n"
}

// SectionMessages режет секцию на сообщения; заголовок идёт в первом.
func SectionMessages(platform domain.Platform, section domain.DigestSection) []string {
	header := sectionHeader(platform, section.Title)
	size := platform.ChunkSize() - len([]rune(header))
	chunks := chunker.Split(section.Content, size)
	out := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if i == 0 {
			c = header + c
		}
		out = append(out, c)
	}
	return out
}
