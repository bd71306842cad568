package summarizer

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ykvlv/digest-bot/internal/domain"
)

const (
	// MaxMessageRunes caps a single message body in the prompt.
	MaxMessageRunes = 2000
	// MaxBlockRunes caps one channel's formatted block; later (older) messages are dropped.
	MaxBlockRunes = 40000
	// TruncationMarker is appended to a truncated body.
	TruncationMarker = "..."

	previewRunes = 100
	dateLayout   = "2006-01-02 15:04"
)

// Block is one channel's contribution to a digest request.
type Block struct {
	Handle   string
	Title    string
	Messages []domain.Message // newest first
}

// truncateRunes cuts s to at most n runes and appends marker if it was cut.
func truncateRunes(s string, n int, marker string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i] + marker
}

// PostURL is the public link of a channel post.
func PostURL(handle string, messageID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", domain.NormalizeHandle(handle), messageID)
}

// FormatMessages renders a channel's messages for the prompt. Bodies over
// MaxMessageRunes are truncated with TruncationMarker; shorter bodies are
// kept verbatim. The block stops growing at MaxBlockRunes.
func FormatMessages(msgs []domain.Message, channelTitle, handle string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s (@%s), %d messages, newest first\n", channelTitle, handle, len(msgs))

	budget := MaxBlockRunes - utf8.RuneCountInString(b.String())
	for i, m := range msgs {
		entry := fmt.Sprintf("\n%d. [%s] (views: %d)\n%s\n[post link: %s]\n",
			i+1,
			m.Date.UTC().Format(dateLayout),
			m.Views,
			truncateRunes(m.Text, MaxMessageRunes, TruncationMarker),
			PostURL(handle, m.ID),
		)
		n := utf8.RuneCountInString(entry)
		if n > budget {
			fmt.Fprintf(&b, "\n[%d older messages omitted]\n", len(msgs)-i)
			break
		}
		b.WriteString(entry)
		budget -= n
	}
	return b.String()
}

// Link is a reference to one post appended under a channel's summary.
type Link struct {
	URL     string
	Preview string
	Views   int
	Date    string
}

// TopLinks returns up to n messages with the most views, highest first.
// Equal view counts keep their input order.
func TopLinks(msgs []domain.Message, handle string, n int) []Link {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}
	sorted := make([]domain.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Views > sorted[j].Views })
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	links := make([]Link, 0, len(sorted))
	for _, m := range sorted {
		links = append(links, Link{
			URL:     PostURL(handle, m.ID),
			Preview: truncateRunes(strings.TrimSpace(m.Text), previewRunes, TruncationMarker),
			Views:   m.Views,
			Date:    m.Date.UTC().Format(dateLayout),
		})
	}
	return links
}

// RenderLinks formats links as a Telegram HTML block; empty for no links.
func RenderLinks(links []Link) string {
	if len(links) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("📎 <b>Top posts:</b>\n")
	for _, l := range links {
		fmt.Fprintf(&b, "• [%s] <a href=\"%s\">%s</a> (👁 %d)\n",
			l.Date, html.EscapeString(l.URL), html.EscapeString(oneLine(l.Preview)), l.Views)
	}
	return strings.TrimRight(b.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
