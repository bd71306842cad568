package delivery

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	openAnchorRe  = regexp.MustCompile(`(?i)<a\s+href=["']([^"']+)["']\s*>`)
	closeAnchorRe = regexp.MustCompile(`(?i)</a\s*>`)
	anchorRe      = regexp.MustCompile(`(?is)<a\s+href=["']([^"']+)["']\s*>(.*?)</a\s*>`)
	anyTagRe      = regexp.MustCompile(`<[^>]*>`)
)

// EscapeHTML escapes the three characters Telegram HTML treats specially.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// FixHTMLTags closes unterminated <a> tags at the end of s. If the anchors
// still do not pair up (stray closing tags), it falls back to StripHTMLTags.
func FixHTMLTags(s string) string {
	opened := len(openAnchorRe.FindAllStringIndex(s, -1))
	closed := len(closeAnchorRe.FindAllStringIndex(s, -1))
	if opened == closed {
		return s
	}
	if opened < closed {
		return StripHTMLTags(s)
	}
	return s + strings.Repeat("</a>", opened-closed)
}

// StripHTMLTags turns Telegram HTML into plain text: anchors become
// "text (url)", other tags are dropped and entities are decoded.
func StripHTMLTags(s string) string {
	s = anchorRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		url, label := sub[1], strings.TrimSpace(anyTagRe.ReplaceAllString(sub[2], ""))
		if label == "" || label == url {
			return url
		}
		return label + " (" + url + ")"
	})
	// Unpaired openings keep their URL.
	s = openAnchorRe.ReplaceAllString(s, "($1) ")
	s = anyTagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}
