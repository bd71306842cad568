package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/digest"
	"github.com/ykvlv/digest-bot/internal/domain"
	"github.com/ykvlv/digest-bot/internal/reader"
	"github.com/ykvlv/digest-bot/internal/store"
)

// Pending state keys used in conversational flows.
const (
	pendingChannel = "await_channel_handle"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// AccessChecker verifies a channel can be read before it is stored.
type AccessChecker interface {
	CheckAccess(ctx context.Context, handle string) (reader.Channel, error)
}

// Digester runs the digest pipeline on demand.
type Digester interface {
	Run(ctx context.Context, u domain.User, now time.Time) (digest.Result, error)
}

type callbackHandler func(r *Router, ctx context.Context, t target, from *tgbotapi.User, cb Callback)

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot     BotAPI
	log     *zap.Logger
	repo    store.Repo
	access  AccessChecker
	digests Digester
	now     func() time.Time

	callbacks map[CallbackKind]callbackHandler

	state map[int64]string // chatID -> pending state
	mu    sync.RWMutex

	running map[int64]bool // users with an on-demand digest in flight
	runMu   sync.Mutex
	wg      sync.WaitGroup
}

// NewRouter creates a new Telegram router.
func NewRouter(bot BotAPI, log *zap.Logger, repo store.Repo, access AccessChecker, digests Digester) *Router {
	return &Router{
		bot:       bot,
		log:       log,
		repo:      repo,
		access:    access,
		digests:   digests,
		now:       func() time.Time { return time.Now().UTC() },
		callbacks: callbackTable(),
		state:     make(map[int64]string),
		running:   make(map[int64]bool),
	}
}

// callbackTable maps every callback kind to its handler.
func callbackTable() map[CallbackKind]callbackHandler {
	return map[CallbackKind]callbackHandler{
		CallbackMenuMain:     (*Router).cbMainMenu,
		CallbackMenuList:     (*Router).cbList,
		CallbackMenuSummary:  (*Router).cbSummary,
		CallbackMenuPeriod:   (*Router).cbPeriodMenu,
		CallbackMenuHelp:     (*Router).cbHelp,
		CallbackMenuAddHelp:  (*Router).cbAddHelp,
		CallbackInputChannel: (*Router).cbInputChannel,
		CallbackCancelInput:  (*Router).cbCancelInput,
		CallbackSetPeriod:    (*Router).cbSetPeriod,
	}
}

// setPending sets a pending state for a chat (non-persistent, in-memory).
func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

// getPending returns current pending state for a chat.
func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[chatID]
}

// clearPending clears a pending state for a chat.
func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
}

// Wait blocks until on-demand digests started by the router have finished.
func (r *Router) Wait() { r.wg.Wait() }

// parseCommand splits "/cmd@bot args" into "cmd" and "args".
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		r.handleMessage(ctx, upd.Message)
		return
	}
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	cmd, args, ok := parseCommand(text)
	if !ok {
		// Free-form text used in the channel input flow
		r.handleFreeForm(ctx, chatID, msg.From, text)
		return
	}
	// Any command ends a pending flow.
	r.clearPending(chatID)

	switch cmd {
	case "start":
		r.handleStart(ctx, chatID, msg.From)
	case "help":
		r.show(ctx, target{chatID: chatID}, helpText, ptr(backKeyboard()))
	case "add":
		r.handleAdd(ctx, chatID, msg.From, args)
	case "remove":
		r.handleRemove(ctx, chatID, msg.From, args)
	case "list":
		r.showList(ctx, target{chatID: chatID}, msg.From)
	case "period":
		r.handlePeriod(ctx, chatID, msg.From, args)
	case "summary":
		r.startSummary(ctx, target{chatID: chatID}, msg.From)
	default:
		r.sendText(chatID, unknownText)
	}
}

func (r *Router) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	_ = r.answerCallback(q.ID, "")
	if q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return
	}

	cb, err := ParseCallback(q.Data)
	if err != nil {
		r.log.Debug("ignoring callback", zap.String("data", q.Data), zap.Error(err))
		return
	}
	h, ok := r.callbacks[cb.Kind]
	if !ok {
		r.log.Warn("no handler for callback", zap.Stringer("kind", cb.Kind))
		return
	}
	r.log.Debug("callback", zap.Int64("user_id", q.From.ID), zap.Stringer("kind", cb.Kind))
	h(r, ctx, target{chatID: q.Message.Chat.ID, messageID: q.Message.MessageID}, q.From, cb)
}

func ptr[T any](v T) *T { return &v }
