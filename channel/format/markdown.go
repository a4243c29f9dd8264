// Package format renders generator output for transport delivery. The LLM
// produces Markdown; Telegram wants a restricted HTML subset and WhatsApp
// wants plain text.
package format

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Telegram's sendMessage HTML mode accepts only this tag set; everything else
// must be stripped or the API rejects the whole message.
var (
	blockOpenRe  = regexp.MustCompile(`<(?:p|ul|ol|blockquote|h[1-6])[^>]*>`)
	blockCloseRe = regexp.MustCompile(`</(?:p|ul|ol|blockquote|h[1-6])>`)
	listItemRe   = regexp.MustCompile(`<li[^>]*>`)
	disallowedRe = regexp.MustCompile(`</?(?:img|table|thead|tbody|tr|td|th|hr|br|div|span)[^>]*>`)
	multiNLRe    = regexp.MustCompile(`\n{3,}`)
)

// TelegramHTML converts generator Markdown into the HTML subset accepted by
// the Telegram Bot API. Block structure is flattened to newlines.
func TelegramHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}

	out := buf.String()
	out = strings.ReplaceAll(out, "<br>", "\n")
	out = strings.ReplaceAll(out, "<br/>", "\n")
	out = blockCloseRe.ReplaceAllString(out, "\n")
	out = blockOpenRe.ReplaceAllString(out, "")
	out = listItemRe.ReplaceAllString(out, "• ")
	out = strings.ReplaceAll(out, "</li>", "\n")
	out = strings.ReplaceAll(out, "<em>", "<i>")
	out = strings.ReplaceAll(out, "</em>", "</i>")
	out = strings.ReplaceAll(out, "<strong>", "<b>")
	out = strings.ReplaceAll(out, "</strong>", "</b>")
	out = strings.ReplaceAll(out, "<del>", "<s>")
	out = strings.ReplaceAll(out, "</del>", "</s>")
	out = disallowedRe.ReplaceAllString(out, "")
	out = multiNLRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

var tagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// PlainText converts generator Markdown to plain text for transports with no
// formatting support.
func PlainText(markdown string) string {
	rendered, err := TelegramHTML(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimSpace(tagRe.ReplaceAllString(rendered, ""))
}
