package digest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ykvlv/digest-bot/internal/delivery"
	"github.com/ykvlv/digest-bot/internal/domain"
	"github.com/ykvlv/digest-bot/internal/reader"
	"github.com/ykvlv/digest-bot/internal/summarizer"
)

// Separator goes between the summary and each channel's link block.
var Separator = strings.Repeat("─", 30)

const (
	headerFmt       = "🤖 <b>Channel digest</b> · %s\n\n"
	noMessagesText  = "📭 No new messages in your channels for this period."
	channelEmpty    = "No new messages."
	unavailableHead = "⚠️ <b>Could not read:</b>"
)

// compose builds the outgoing digest: header, model summary, then a link
// block per channel, then the channels that could not be read.
func compose(p domain.Period, summary string, sections []section, failed []failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, headerFmt, "last "+windowLabel(p))

	if summary != "" {
		b.WriteString(strings.TrimSpace(summary))
	} else {
		b.WriteString(noMessagesText)
	}

	for _, s := range sections {
		b.WriteString("\n\n" + Separator + "\n\n")
		fmt.Fprintf(&b, "<b>%s</b>\n", delivery.EscapeHTML(s.title))
		if len(s.messages) == 0 {
			b.WriteString(channelEmpty)
			continue
		}
		b.WriteString(summarizer.RenderLinks(s.links))
	}

	if len(failed) > 0 {
		b.WriteString("\n\n" + Separator + "\n\n" + unavailableHead)
		for _, f := range failed {
			fmt.Fprintf(&b, "\n• @%s: %s", delivery.EscapeHTML(f.handle), reason(f.err))
		}
	}
	return b.String()
}

func windowLabel(p domain.Period) string {
	if p == domain.PeriodDaily {
		return "24 hours"
	}
	return fmt.Sprintf("%d days", int(p))
}

// reason is the user-facing explanation of a read failure.
func reason(err error) string {
	switch {
	case errors.Is(err, reader.ErrChannelPrivate):
		return "no access, the reading account is not a member"
	case errors.Is(err, reader.ErrChannelNotFound):
		return "channel not found"
	case errors.Is(err, reader.ErrNotChannel):
		return "not a channel"
	case errors.Is(err, reader.ErrInvalidHandle):
		return "invalid username"
	case errors.Is(err, reader.ErrUnauthorized):
		return "reader session is not authorized"
	default:
		return "temporarily unavailable, will retry next time"
	}
}
