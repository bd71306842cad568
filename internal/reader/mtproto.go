package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/domain"
)

// historyBatch is the page size for messages.getHistory (server max is 100).
const historyBatch = 100

// Options configures the MTProto connection.
type Options struct {
	APIID       int
	APIHash     string
	SessionPath string
	Timeout     time.Duration // per request
	FetchLimit  int           // max messages returned per FetchMessages call
}

// Client implements Reader on top of gotd/td. The underlying connection is
// owned by a background goroutine between Start and Stop.
type Client struct {
	opts   Options
	log    *zap.Logger
	client *telegram.Client

	mu     sync.Mutex
	api    *tg.Client
	cancel context.CancelFunc
	done   chan error
}

var _ Reader = (*Client)(nil)

func newTelegramClient(opts Options, log *zap.Logger) (*telegram.Client, error) {
	if err := os.MkdirAll(filepath.Dir(opts.SessionPath), 0o700); err != nil {
		return nil, err
	}
	return telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionPath},
		Logger:         log.Named("mtproto"),
	}), nil
}

// New creates a client; call Start before use.
func New(opts Options, log *zap.Logger) (*Client, error) {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = historyBatch
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	tc, err := newTelegramClient(opts, log)
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, log: log, client: tc}, nil
}

// Start connects and verifies that the stored session is authorized.
// It returns once the client is ready or failed to become ready.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				ready <- fmt.Errorf("auth status: %w", err)
				return err
			}
			if !status.Authorized {
				ready <- ErrUnauthorized
				return ErrUnauthorized
			}
			c.log.Info("mtproto session ready", zap.String("user", status.User.Username))
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("mtproto client stopped before becoming ready")
		}
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	c.mu.Lock()
	c.api = c.client.API()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	return nil
}

// Stop disconnects and waits for the background goroutine, bounded by ctx.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.api, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) raw() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, errors.New("mtproto client is not started")
	}
	return c.api, nil
}

// ResolveChannel looks up a channel by username.
func (c *Client) ResolveChannel(ctx context.Context, handle string) (Channel, error) {
	h, err := domain.ParseHandle(handle)
	if err != nil {
		return Channel{}, fatal(domain.NormalizeHandle(handle), err)
	}
	api, err := c.raw()
	if err != nil {
		return Channel{}, &ReadError{Handle: h, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: h})
	if err != nil {
		return Channel{}, classify(h, err)
	}
	return channelFromResolved(h, res)
}

func channelFromResolved(handle string, res *tg.ContactsResolvedPeer) (Channel, error) {
	for _, chat := range res.Chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			return Channel{ID: ch.ID, AccessHash: ch.AccessHash, Handle: handle, Title: ch.Title}, nil
		case *tg.ChannelForbidden:
			return Channel{}, fatal(handle, ErrChannelPrivate)
		}
	}
	return Channel{}, fatal(handle, ErrNotChannel)
}

// CheckAccess resolves the channel and reads one message to prove the
// account can see its history.
func (c *Client) CheckAccess(ctx context.Context, handle string) (Channel, error) {
	ch, err := c.ResolveChannel(ctx, handle)
	if err != nil {
		return Channel{}, err
	}
	api, err := c.raw()
	if err != nil {
		return Channel{}, &ReadError{Handle: ch.Handle, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if _, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(ch),
		Limit: 1,
	}); err != nil {
		return Channel{}, classify(ch.Handle, err)
	}
	return ch, nil
}

// FetchMessages pages through history newest first until it reaches since
// or FetchLimit messages with text were collected.
func (c *Client) FetchMessages(ctx context.Context, ch Channel, since time.Time) ([]domain.Message, error) {
	api, err := c.raw()
	if err != nil {
		return nil, &ReadError{Handle: ch.Handle, Err: err}
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(ch),
		Limit: historyBatch,
	}
	var out []domain.Message
	for {
		page, err := c.historyPage(ctx, api, req)
		if err != nil {
			return nil, classify(ch.Handle, err)
		}
		msgs, minID, reached := collect(page, since)
		out = append(out, msgs...)

		if len(out) >= c.opts.FetchLimit {
			return out[:c.opts.FetchLimit], nil
		}
		if reached || len(page) < req.Limit || minID == 0 {
			return out, nil
		}
		req.OffsetID = minID
	}
}

func (c *Client) historyPage(ctx context.Context, api *tg.Client, req *tg.MessagesGetHistoryRequest) ([]tg.MessageClass, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, err
	}
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		return r.Messages, nil
	case *tg.MessagesMessagesSlice:
		return r.Messages, nil
	case *tg.MessagesMessages:
		return r.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected history response %T", res)
	}
}

// collect converts one newest-first history page. It skips service and
// empty-text messages, stops at the first message not after since, and
// returns the lowest message id seen for pagination.
func collect(page []tg.MessageClass, since time.Time) (out []domain.Message, minID int, reached bool) {
	for _, m := range page {
		if id := m.GetID(); minID == 0 || id < minID {
			minID = id
		}
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		date := time.Unix(int64(msg.Date), 0).UTC()
		if !date.After(since) {
			return out, minID, true
		}
		if msg.Message == "" {
			continue
		}
		// Views is zero when the server omits the field.
		out = append(out, domain.Message{
			ID:    msg.ID,
			Text:  msg.Message,
			Date:  date,
			Views: msg.Views,
		})
	}
	return out, minID, false
}

func inputPeer(ch Channel) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}
