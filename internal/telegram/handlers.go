package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/delivery"
	"github.com/ykvlv/digest-bot/internal/digest"
	"github.com/ykvlv/digest-bot/internal/domain"
	"github.com/ykvlv/digest-bot/internal/reader"
	"github.com/ykvlv/digest-bot/internal/store"
	"github.com/ykvlv/digest-bot/internal/summarizer"
)

// target is where a reply goes: a new message, or an edit of messageID.
type target struct {
	chatID    int64
	messageID int
}

// ensureUser makes sure a user row exists and refreshes the stored names.
func (r *Router) ensureUser(ctx context.Context, from *tgbotapi.User) (*domain.User, error) {
	return r.repo.AddUser(ctx, from.ID, from.UserName, from.FirstName)
}

// --- Generic helpers ---

// show edits the target message when there is one, otherwise sends a new
// HTML message.
func (r *Router) show(_ context.Context, t target, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if t.messageID != 0 {
		var edit tgbotapi.EditMessageTextConfig
		if kb != nil {
			edit = tgbotapi.NewEditMessageTextAndMarkup(t.chatID, t.messageID, text, *kb)
		} else {
			edit = tgbotapi.NewEditMessageText(t.chatID, t.messageID, text)
		}
		edit.ParseMode = tgbotapi.ModeHTML
		edit.DisableWebPagePreview = true
		_, err := r.bot.Send(edit)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			return
		}
		r.log.Debug("edit failed, sending a new message", zap.Int64("chat_id", t.chatID), zap.Error(err))
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Int64("chat_id", t.chatID), zap.Error(err))
	}
}

func (r *Router) sendText(chatID int64, text string) {
	r.show(context.Background(), target{chatID: chatID}, text, nil)
}

// sendProgress posts a status message that a later show can replace.
func (r *Router) sendProgress(chatID int64, text string) target {
	m, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return target{chatID: chatID}
	}
	return target{chatID: chatID, messageID: m.MessageID}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64, from *tgbotapi.User) {
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, "Profile initialization error. Please try again later.")
		return
	}
	r.log.Info("user started bot", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	text := fmt.Sprintf(startFmt, delivery.EscapeHTML(u.DisplayName()))
	r.show(ctx, target{chatID: chatID}, text, ptr(mainMenuKeyboard()))
}

func (r *Router) handleAdd(ctx context.Context, chatID int64, from *tgbotapi.User, args string) {
	if args == "" {
		r.show(ctx, target{chatID: chatID}, addUsageText, ptr(addHelpKeyboard()))
		return
	}
	r.addChannel(ctx, chatID, from, strings.Fields(args)[0])
}

// addChannel validates input, checks the reading account can see the
// channel and only then stores the subscription.
func (r *Router) addChannel(ctx context.Context, chatID int64, from *tgbotapi.User, input string) {
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, errGeneric)
		return
	}
	handle, err := domain.ParseHandle(input)
	if err != nil {
		r.show(ctx, target{chatID: chatID}, errInvalidInput, ptr(addHelpKeyboard()))
		return
	}
	log := r.log.With(zap.Int64("user_id", u.ID), zap.String("channel", handle))

	t := r.sendProgress(chatID, fmt.Sprintf(checkingFmt, handle))
	ch, err := r.access.CheckAccess(ctx, handle)
	if err != nil {
		log.Warn("channel access check failed", zap.Error(err))
		r.show(ctx, t, readErrorText(handle, err), ptr(backKeyboard()))
		return
	}

	_, err = r.repo.AddChannel(ctx, u.ID, handle, &ch.ID, ch.Title)
	switch {
	case errors.Is(err, store.ErrDuplicateSubscription):
		r.show(ctx, t, fmt.Sprintf(duplicateFmt, handle), ptr(afterChangeKeyboard()))
	case err != nil:
		log.Error("add channel failed", zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
	default:
		log.Info("channel added", zap.String("title", ch.Title))
		title := ""
		if ch.Title != "" {
			title = " (" + delivery.EscapeHTML(ch.Title) + ")"
		}
		r.show(ctx, t, fmt.Sprintf(addedFmt, handle, title), ptr(afterChangeKeyboard()))
	}
}

// readErrorText explains a reader failure to the user.
func readErrorText(handle string, err error) string {
	switch {
	case errors.Is(err, reader.ErrChannelPrivate):
		return fmt.Sprintf(errPrivate, handle)
	case errors.Is(err, reader.ErrChannelNotFound):
		return fmt.Sprintf(errNotFound, handle)
	case errors.Is(err, reader.ErrNotChannel):
		return fmt.Sprintf(errNotChannel, handle)
	case errors.Is(err, reader.ErrInvalidHandle), errors.Is(err, domain.ErrEmptyHandle):
		return errInvalidInput
	case errors.Is(err, reader.ErrUnauthorized):
		return errReaderAuth
	default:
		return errReadLater
	}
}

func (r *Router) handleRemove(ctx context.Context, chatID int64, from *tgbotapi.User, args string) {
	if args == "" {
		r.sendText(chatID, removeUsageText)
		return
	}
	handle, err := domain.ParseHandle(strings.Fields(args)[0])
	if err != nil {
		r.sendText(chatID, errInvalidInput)
		return
	}
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, errGeneric)
		return
	}

	err = r.repo.RemoveChannel(ctx, u.ID, handle)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.sendText(chatID, fmt.Sprintf(notTrackedFmt, handle))
	case err != nil:
		r.log.Error("remove channel failed", zap.Int64("user_id", u.ID), zap.Error(err))
		r.sendText(chatID, errGeneric)
	default:
		r.log.Info("channel removed", zap.Int64("user_id", u.ID), zap.String("channel", handle))
		r.sendText(chatID, fmt.Sprintf(removedFmt, handle))
	}
}

func (r *Router) showList(ctx context.Context, t target, from *tgbotapi.User) {
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
		return
	}
	subs, err := r.repo.ListChannels(ctx, u.ID)
	if err != nil {
		r.log.Error("list channels failed", zap.Int64("user_id", u.ID), zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
		return
	}
	if len(subs) == 0 {
		r.show(ctx, t, noChannelsText, ptr(emptyListKeyboard()))
		return
	}
	r.show(ctx, t, channelListText(subs, u.Period), ptr(listKeyboard()))
}

// --- Period flow ---

func (r *Router) handlePeriod(ctx context.Context, chatID int64, from *tgbotapi.User, args string) {
	t := target{chatID: chatID}
	if args == "" {
		r.show(ctx, t, periodPromptText, ptr(periodKeyboard()))
		return
	}
	p, err := domain.ParsePeriod(args)
	if err != nil {
		r.show(ctx, t, errPeriod, ptr(periodKeyboard()))
		return
	}
	r.setPeriod(ctx, t, from, p)
}

func (r *Router) setPeriod(ctx context.Context, t target, from *tgbotapi.User, p domain.Period) {
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
		return
	}
	err = r.repo.SetSummaryPeriod(ctx, u.ID, p)
	switch {
	case errors.Is(err, domain.ErrInvalidPeriod):
		r.show(ctx, t, errPeriod, ptr(periodKeyboard()))
	case err != nil:
		r.log.Error("set period failed", zap.Int64("user_id", u.ID), zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
	default:
		r.log.Info("period set", zap.Int64("user_id", u.ID), zap.Int("days", int(p)))
		r.show(ctx, t, fmt.Sprintf(periodSetFmt, p.Label()), ptr(afterChangeKeyboard()))
	}
}

// --- On-demand digest ---

func (r *Router) tryStart(userID int64) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running[userID] {
		return false
	}
	r.running[userID] = true
	return true
}

func (r *Router) finish(userID int64) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	delete(r.running, userID)
}

// startSummary runs the digest in the background so the update loop keeps
// serving other users. One run per user at a time.
func (r *Router) startSummary(ctx context.Context, t target, from *tgbotapi.User) {
	u, err := r.ensureUser(ctx, from)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
		return
	}
	subs, err := r.repo.ListChannels(ctx, u.ID)
	if err != nil {
		r.log.Error("list channels failed", zap.Int64("user_id", u.ID), zap.Error(err))
		r.show(ctx, t, errGeneric, nil)
		return
	}
	if len(subs) == 0 {
		r.show(ctx, t, noChannelsText, ptr(emptyListKeyboard()))
		return
	}
	if !r.tryStart(u.ID) {
		r.show(ctx, t, summaryBusy, nil)
		return
	}

	r.show(ctx, t, fmt.Sprintf(summaryStartFmt, int(u.Period)), nil)
	user := *u
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.finish(user.ID)
		r.runSummary(ctx, t.chatID, user)
	}()
}

func (r *Router) runSummary(ctx context.Context, chatID int64, u domain.User) {
	log := r.log.With(zap.Int64("user_id", u.ID))
	res, err := r.digests.Run(ctx, u, r.now())
	switch {
	case err == nil:
		log.Info("on-demand digest delivered", zap.Int("chunks", res.Chunks), zap.Int("messages", res.Messages))
	case errors.Is(err, digest.ErrNoChannels):
		r.sendText(chatID, noChannelsText)
	case errors.Is(err, digest.ErrInProgress):
		r.sendText(chatID, summaryBusy)
	case errors.Is(err, digest.ErrAllChannelsFailed):
		r.sendText(chatID, errAllFailed)
	case errors.Is(err, summarizer.ErrUnavailable):
		r.sendText(chatID, errSummary)
	case errors.Is(err, delivery.ErrDeliveryFailed):
		log.Warn("on-demand digest not delivered", zap.Error(err))
	default:
		log.Error("on-demand digest failed", zap.Error(err))
		if !res.Delivered {
			r.sendText(chatID, errGeneric)
		}
	}
}

// --- Free-form dispatcher ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, from *tgbotapi.User, text string) {
	switch r.getPending(chatID) {
	case pendingChannel:
		r.clearPending(chatID)
		r.addChannel(ctx, chatID, from, text)
	default:
		r.sendText(chatID, unknownText)
	}
}

// --- Callbacks ---

func (r *Router) cbMainMenu(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.show(ctx, t, mainMenuText, ptr(mainMenuKeyboard()))
}

func (r *Router) cbList(ctx context.Context, t target, from *tgbotapi.User, _ Callback) {
	r.showList(ctx, t, from)
}

func (r *Router) cbSummary(ctx context.Context, t target, from *tgbotapi.User, _ Callback) {
	r.startSummary(ctx, t, from)
}

func (r *Router) cbPeriodMenu(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.show(ctx, t, periodPromptText, ptr(periodKeyboard()))
}

func (r *Router) cbHelp(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.show(ctx, t, helpText, ptr(backKeyboard()))
}

func (r *Router) cbAddHelp(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.show(ctx, t, addHelpText, ptr(addHelpKeyboard()))
}

func (r *Router) cbInputChannel(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.setPending(t.chatID, pendingChannel)
	r.show(ctx, t, inputChannelText, ptr(cancelInputKeyboard()))
}

func (r *Router) cbCancelInput(ctx context.Context, t target, _ *tgbotapi.User, _ Callback) {
	r.clearPending(t.chatID)
	r.show(ctx, t, inputCanceledText, ptr(backKeyboard()))
}

func (r *Router) cbSetPeriod(ctx context.Context, t target, from *tgbotapi.User, cb Callback) {
	r.setPeriod(ctx, t, from, cb.Period)
}
