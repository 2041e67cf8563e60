package telegram

import (
	"strings"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"жирный", "**bold text**", []string{"<b>bold text</b>"}},
		{"курсив", "*italic text*", []string{"<i>italic text</i>"}},
		{"код", "`inline code`", []string{"<code>inline code</code>"}},
		{"блок кода", "```python\nprint('hello')\n```", []string{"<pre>", "print", "</pre>"}},
		{"зачёркнутый", "~~strikethrough~~", []string{"<s>strikethrough</s>"}},
		{"ссылка", "[click here](https://example.com)", []string{`<a href="https://example.com">click here</a>`}},
		{"заголовок", "### Header Text", []string{"<b>Header Text</b>"}},
		{"вложенный", "**bold *italic* text**", []string{"<b>", "<i>"}},
		{"смешанный", "**bold** and *italic* and `code`", []string{"<b>bold</b>", "<i>italic</i>", "<code>code</code>"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MarkdownToHTML(tc.in)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Fatalf("в %q нет %q", got, w)
				}
			}
		})
	}
}

func TestMarkdownToHTMLEscapes(t *testing.T) {
	got := MarkdownToHTML("<script>alert('xss')</script>")
	if !strings.Contains(got, "&lt;script&gt;") || strings.Contains(got, "<script>") {
		t.Fatalf("html не экранирован: %q", got)
	}
	if MarkdownToHTML("") != "" || MarkdownToHTML("plain text") != "plain text" {
		t.Fatalf("простой текст не должен меняться")
	}
}

func TestFixTagNesting(t *testing.T) {
	cases := map[string]string{
		"<b><i>text</i></b>":     "<b><i>text</i></b>",
		"<b><i>text</b></i>":     "<b><i>text</i></b><i></i>",
		"<b>text":                "<b>text</b>",
		"plain text":             "plain text",
		`<a href="url">text</a>`: `<a href="url">text</a>`,
		"stray</b> close":        "stray close",
	}
	for in, want := range cases {
		if got := FixTagNesting(in); got != want {
			t.Fatalf("FixTagNesting(%q) = %q, ожидали %q", in, got, want)
		}
	}
}
