// Package chunker режет длинные ответы на сообщения допустимого размера.
package chunker

import "unicode"

// Split разбивает text на части не длиннее size символов.
// Разрез делается по последнему пробелу до границы; слово длиннее size режется принудительно.
// Пробелы в начале следующей части отбрасываются.
func Split(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}
		cut := lastSpace(runes[:size])
		if cut <= 0 {
			cut = size
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = trimLeftSpace(runes[cut:])
	}
	return chunks
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

func trimLeftSpace(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}
