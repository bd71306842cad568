package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/digest-bot/internal/delivery"
	"github.com/ykvlv/digest-bot/internal/domain"
)

// UI texts in English
const (
	startFmt = "👋 Hi, %s!\n\n" +
		"I read the Telegram channels you track and send you an AI digest of what happened.\n\n" +
		"Add a channel with /add @channel, then pick how often you want the digest with /period."
	mainMenuText = "🏠 <b>Main menu</b>\n\nChoose an action:"
	helpText     = "📖 <b>Commands</b>\n\n" +
		"<b>/add &lt;@channel&gt;</b>\nTrack a channel. Example: <code>/add @durov</code>\n\n" +
		"<b>/remove &lt;@channel&gt;</b>\nStop tracking a channel.\n\n" +
		"<b>/list</b>\nShow tracked channels.\n\n" +
		"<b>/period</b>\nHow often to send the digest: once a day (default), every 3 days or once a week.\n\n" +
		"<b>/summary</b>\nGet a digest of all channels right now.\n\n" +
		"<b>Private channels</b>\nThe reading account must be subscribed to a private channel before it can be added."
	addHelpText = "➕ <b>How to add a channel</b>\n\n" +
		"Send <code>/add @channelname</code>.\n\n" +
		"<b>Examples:</b>\n" +
		"• <code>/add @durov</code>\n" +
		"• <code>/add python_news</code>\n" +
		"• <code>/add https://t.me/durov</code>\n\n" +
		"The username is usually shown in the channel description."
	inputChannelText = "✏️ Send the username of the channel you want to add.\n\n" +
		"For example: <code>@durov</code> or <code>durov</code>"
	inputCanceledText = "❌ Adding a channel was canceled."
	periodPromptText  = "⏰ How often should I send the digest?"

	addUsageText    = "❌ Specify a channel username.\nUsage: /add @channelname"
	removeUsageText = "❌ Specify a channel username.\nUsage: /remove @channelname"
	checkingFmt     = "🔍 Checking access to @%s..."
	addedFmt        = "✅ @%s%s is now tracked."
	duplicateFmt    = "⚠️ @%s is already in your list."
	removedFmt      = "✅ @%s removed from your list."
	notTrackedFmt   = "⚠️ @%s is not in your list."
	noChannelsText  = "📭 You do not track any channels yet.\nAdd one with /add @channelname"
	listTitle       = "📋 <b>Your channels:</b>"
	periodLineFmt   = "⏰ Digest: %s"
	periodSetFmt    = "✅ Digest period set: %s."
	summaryStartFmt = "⏳ Collecting posts for the last %d day(s) and writing the digest..."
	summaryBusy     = "⏳ Your digest is already being prepared."
	unknownText     = "I did not understand that. Use /help to see the commands."

	errGeneric      = "⚠️ Something went wrong. Please try again later."
	errInvalidInput = "❌ That does not look like a channel username. Use letters, digits and underscores, 5 to 32 characters."
	errPrivate      = "🔒 @%s is private or not available to the reading account. Subscribe the reading account first."
	errNotFound     = "❌ Channel @%s was not found."
	errNotChannel   = "❌ @%s is not a channel."
	errReaderAuth   = "⚠️ The reading account is not logged in. Ask the administrator to run the login tool."
	errReadLater    = "⚠️ Telegram did not answer in time. Please try again in a minute."
	errPeriod       = "❌ Supported periods: 1, 3 or 7 days."
	errAllFailed    = "⚠️ None of your channels could be read right now. Please try again later."
	errSummary      = "⚠️ The summary service is not available right now. Please try again later."
)

func button(text string, kind CallbackKind) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, Callback{Kind: kind}.Data())
}

func backToMenuRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(button("🏠 Main menu", CallbackMenuMain))
}

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📋 My channels", CallbackMenuList),
			button("➕ Add channel", CallbackMenuAddHelp),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("📊 Get digest", CallbackMenuSummary),
			button("⏰ Period", CallbackMenuPeriod),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("❓ Help", CallbackMenuHelp),
		),
	)
}

func periodKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(domain.Periods)+1)
	for _, p := range domain.Periods {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 "+capitalize(p.Label()), Callback{Kind: CallbackSetPeriod, Period: p}.Data()),
		))
	}
	rows = append(rows, backToMenuRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func addHelpKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("✏️ Enter channel username", CallbackInputChannel)),
		backToMenuRow(),
	)
}

func cancelInputKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("❌ Cancel", CallbackCancelInput)),
	)
}

// afterChangeKeyboard follows a successful add or period change.
func afterChangeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📋 My channels", CallbackMenuList),
			button("📊 Digest", CallbackMenuSummary),
		),
		backToMenuRow(),
	)
}

func listKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📊 Get digest", CallbackMenuSummary),
			button("⏰ Period", CallbackMenuPeriod),
		),
		backToMenuRow(),
	)
}

func emptyListKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("➕ Add channel", CallbackMenuAddHelp)),
		backToMenuRow(),
	)
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(backToMenuRow())
}

// channelListText renders subscriptions with links and the current period.
func channelListText(subs []domain.Subscription, p domain.Period) string {
	var b strings.Builder
	b.WriteString(listTitle + "\n\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "• <a href=\"%s\">%s</a>", s.URL(), delivery.EscapeHTML(s.DisplayTitle()))
		if s.Title != "" {
			fmt.Fprintf(&b, " (@%s)", s.Handle)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n"+periodLineFmt, p.Label())
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
