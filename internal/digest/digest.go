// Package digest builds and delivers one user's digest: read every tracked
// channel for the current window, summarize, send, then mark the user.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/domain"
	"github.com/ykvlv/digest-bot/internal/reader"
	"github.com/ykvlv/digest-bot/internal/summarizer"
)

var (
	// ErrNoChannels means the user tracks nothing; the user is not marked.
	ErrNoChannels = errors.New("no tracked channels")
	// ErrAllChannelsFailed means no channel could be read this cycle.
	ErrAllChannelsFailed = errors.New("all channel reads failed")
	// ErrInProgress means a digest for the same user is already running.
	ErrInProgress = errors.New("digest already in progress")
)

// DefaultTopLinks is how many post links follow each channel's summary.
const DefaultTopLinks = 5

// Store is the persistence the pipeline needs.
type Store interface {
	ListChannels(ctx context.Context, userID int64) ([]domain.Subscription, error)
	UpdateChannelInfo(ctx context.Context, userID int64, handle string, channelID int64, title string) error
	UpdateChannelLastMessage(ctx context.Context, userID int64, handle string, at time.Time) error
	MarkSummarized(ctx context.Context, userID int64, at time.Time) error
}

// Reader reads public or joined channels.
type Reader interface {
	ResolveChannel(ctx context.Context, handle string) (reader.Channel, error)
	FetchMessages(ctx context.Context, ch reader.Channel, since time.Time) ([]domain.Message, error)
}

// Summarizer turns channel blocks into digest text.
type Summarizer interface {
	Summarize(ctx context.Context, blocks []summarizer.Block) (string, error)
}

// Sender delivers text to a chat and reports how many chunks went out.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
}

// Pipeline is shared by the scheduler and the /summary command.
type Pipeline struct {
	store  Store
	reader Reader
	sum    Summarizer
	send   Sender
	log    *zap.Logger
	topN   int

	mu      sync.Mutex
	running map[int64]struct{} // users with a run in flight
}

// New creates a pipeline.
func New(st Store, rd Reader, sum Summarizer, send Sender, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		reader:  rd,
		sum:     sum,
		send:    send,
		log:     log,
		topN:    DefaultTopLinks,
		running: make(map[int64]struct{}),
	}
}

func (p *Pipeline) acquire(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[userID]; ok {
		return false
	}
	p.running[userID] = struct{}{}
	return true
}

func (p *Pipeline) release(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, userID)
}

// Result describes one run for logging and tests.
type Result struct {
	Channels   int
	Failed     int
	Messages   int
	Chunks     int
	Summarized bool // summarizer was called
	Delivered  bool
	Partial    bool // some chunks were not delivered
	Marked     bool
}

type section struct {
	handle   string
	title    string
	messages []domain.Message
	links    []summarizer.Link
}

type failure struct {
	handle string
	err    error
}

// Run builds and delivers u's digest for the window ending at now. The user
// is marked summarized only after delivery; a failure before the first chunk
// is delivered leaves the user due. At most one run per user is in flight
// across the scheduler and on-demand requests; a concurrent call returns
// ErrInProgress without doing any work.
func (p *Pipeline) Run(ctx context.Context, u domain.User, now time.Time) (Result, error) {
	var res Result
	if !p.acquire(u.ID) {
		return res, ErrInProgress
	}
	defer p.release(u.ID)
	log := p.log.With(zap.Int64("user_id", u.ID))

	subs, err := p.store.ListChannels(ctx, u.ID)
	if err != nil {
		return res, fmt.Errorf("list channels: %w", err)
	}
	if len(subs) == 0 {
		return res, ErrNoChannels
	}
	res.Channels = len(subs)

	since, _ := domain.Window(now, u.Period)
	sections, failed := p.readAll(ctx, log, u.ID, subs, since)
	res.Failed = len(failed)
	if len(sections) == 0 {
		return res, errors.Join(ErrAllChannelsFailed, failed[0].err)
	}

	var blocks []summarizer.Block
	for _, s := range sections {
		if len(s.messages) == 0 {
			continue
		}
		res.Messages += len(s.messages)
		blocks = append(blocks, summarizer.Block{Handle: s.handle, Title: s.title, Messages: s.messages})
	}

	var summary string
	if len(blocks) > 0 {
		res.Summarized = true
		summary, err = p.sum.Summarize(ctx, blocks)
		if err != nil {
			log.Error("summarize failed", zap.String("stage", "summarize"), zap.Error(err))
			return res, err
		}
	}

	text := compose(u.Period, summary, sections, failed)
	res.Chunks, err = p.send.Send(ctx, u.ID, text)
	if err != nil {
		if res.Chunks == 0 {
			log.Error("deliver failed", zap.String("stage", "deliver"), zap.Error(err))
			return res, err
		}
		res.Partial = true
		log.Warn("digest partially delivered", zap.String("stage", "deliver"),
			zap.Int("chunks", res.Chunks), zap.Error(err))
	}
	res.Delivered = true

	if err := p.store.MarkSummarized(ctx, u.ID, now); err != nil {
		log.Error("mark summarized failed", zap.String("stage", "mark"), zap.Error(err))
		return res, fmt.Errorf("mark summarized: %w", err)
	}
	res.Marked = true
	return res, nil
}

// readAll reads each channel in turn. A channel failure only drops that
// channel's contribution.
func (p *Pipeline) readAll(ctx context.Context, log *zap.Logger, userID int64, subs []domain.Subscription, since time.Time) ([]section, []failure) {
	var (
		sections []section
		failed   []failure
	)
	for _, sub := range subs {
		clog := log.With(zap.String("channel", sub.Handle))
		s, err := p.readOne(ctx, clog, userID, sub, since)
		if err != nil {
			clog.Warn("channel read failed",
				zap.String("stage", "read"),
				zap.Bool("fatal", reader.IsFatal(err)),
				zap.Error(err),
			)
			failed = append(failed, failure{handle: sub.Handle, err: err})
			continue
		}
		clog.Debug("channel read", zap.Int("messages", len(s.messages)))
		sections = append(sections, s)
	}
	return sections, failed
}

func (p *Pipeline) readOne(ctx context.Context, log *zap.Logger, userID int64, sub domain.Subscription, since time.Time) (section, error) {
	ch, err := p.reader.ResolveChannel(ctx, sub.Handle)
	if err != nil {
		return section{}, err
	}
	if err := p.store.UpdateChannelInfo(ctx, userID, sub.Handle, ch.ID, ch.Title); err != nil {
		log.Warn("update channel info", zap.Error(err))
	}

	msgs, err := p.reader.FetchMessages(ctx, ch, since)
	if err != nil {
		return section{}, err
	}
	if len(msgs) > 0 {
		if err := p.store.UpdateChannelLastMessage(ctx, userID, sub.Handle, msgs[0].Date); err != nil {
			log.Warn("update last message", zap.Error(err))
		}
	}

	title := ch.Title
	if title == "" {
		title = sub.DisplayTitle()
	}
	return section{
		handle:   sub.Handle,
		title:    title,
		messages: msgs,
		links:    summarizer.TopLinks(msgs, sub.Handle, p.topN),
	}, nil
}
