// Package telegram переводит Markdown-ответы модели в HTML, который понимает Telegram.
package telegram

import (
	"html"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w*)\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`\*([^*]+)\*`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s*(.+)$`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	tagRe        = regexp.MustCompile(`(?i)<(/?)([biusa]|code|pre)(?:\s[^>]*)?>`)
)

// MarkdownToHTML переводит жирный, курсив, код, зачёркивание, заголовки и ссылки
// в HTML-разметку Telegram. Исходный HTML экранируется.
func MarkdownToHTML(text string) string {
	text = html.EscapeString(text)
	text = codeBlockRe.ReplaceAllString(text, "<pre>$2</pre>")
	text = inlineCodeRe.ReplaceAllString(text, "<code>$1</code>")
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = replaceItalic(text)
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = headerRe.ReplaceAllString(text, "<b>$1</b>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	return FixTagNesting(text)
}

// replaceItalic меняет *x* на <i>x</i>, если звёздочка не часть **.
func replaceItalic(text string) string {
	matches := italicRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if (start > 0 && text[start-1] == '*') || (end < len(text) && text[end] == '*') {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString("<i>")
		b.WriteString(text[m[2]:m[3]])
		b.WriteString("</i>")
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// FixTagNesting чинит перекрёстную вложенность тегов и закрывает незакрытые.
// <b><i>x</b></i> превращается в <b><i>x</i></b><i></i>.
func FixTagNesting(text string) string {
	var b strings.Builder
	var stack []string
	last := 0
	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(text[last:m[0]])
		last = m[1]

		full := text[m[0]:m[1]]
		closing := m[3] > m[2]
		name := strings.ToLower(text[m[4]:m[5]])
		if !closing {
			stack = append(stack, name)
			b.WriteString(full)
			continue
		}

		idx := -1
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		reopen := make([]string, 0, len(stack)-idx-1)
		for len(stack) > idx+1 {
			inner := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			b.WriteString("</" + inner + ">")
			reopen = append(reopen, inner)
		}
		stack = stack[:len(stack)-1]
		b.WriteString("</" + name + ">")
		for i := len(reopen) - 1; i >= 0; i-- {
			stack = append(stack, reopen[i])
			b.WriteString("<" + reopen[i] + ">")
		}
	}
	b.WriteString(text[last:])
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i] + ">")
	}
	return b.String()
}

// StatusMarkdown переводит курсив *x* в _x_ для статусных строк в режиме Markdown.
func StatusMarkdown(text string) string {
	return strings.ReplaceAll(text, "*", "_")
}
