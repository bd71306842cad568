package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ykvlv/digest-bot/internal/digest"
	"github.com/ykvlv/digest-bot/internal/domain"
)

// ErrBusy is returned by Tick while another tick is in progress.
var ErrBusy = errors.New("tick already running")

// State of the scheduler.
type State int32

const (
	StateIdle State = iota
	StateTick
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTick:
		return "tick"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DueSource finds users whose digest is due.
type DueSource interface {
	UsersDueForSummary(ctx context.Context, now time.Time, limit int) ([]domain.User, error)
}

// Runner builds and delivers one user's digest.
type Runner interface {
	Run(ctx context.Context, u domain.User, now time.Time) (digest.Result, error)
}

// Options tunes the scheduler.
type Options struct {
	Spec       string // cron spec, e.g. "0 * * * *"
	Workers    int    // users processed concurrently
	BatchLimit int    // max users per tick; the rest stay due
}

// Scheduler fires on a cron schedule and delivers digests to due users.
type Scheduler struct {
	repo   DueSource
	runner Runner
	log    *zap.Logger
	opts   Options
	state  atomic.Int32
}

// New creates a scheduler.
func New(repo DueSource, runner Runner, log *zap.Logger, opts Options) *Scheduler {
	if opts.Spec == "" {
		opts.Spec = "0 * * * *"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 500
	}
	return &Scheduler{repo: repo, runner: runner, log: log, opts: opts}
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run fires Tick on the cron schedule until ctx is canceled, then waits for
// the running tick to return.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{log: s.log.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.opts.Spec, func() {
		if _, err := s.Tick(ctx, time.Now().UTC()); err != nil && !errors.Is(err, ErrBusy) {
			s.log.Error("tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.opts.Spec, err)
	}

	c.Start()
	s.log.Info("scheduler started", zap.String("spec", s.opts.Spec), zap.Int("workers", s.opts.Workers))

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// TickStats summarizes one tick.
type TickStats struct {
	RunID     string
	Due       int
	Delivered int
	Skipped   int // nothing to deliver, e.g. no tracked channels
	Failed    int
}

// Tick runs one cycle: query due users and process each of them with at most
// Workers in flight. A failure or panic for one user never affects another.
// Users not reached because ctx was canceled stay due for the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateTick)) {
		return TickStats{}, ErrBusy
	}
	defer s.state.Store(int32(StateIdle))

	stats := TickStats{RunID: uuid.NewString()}
	log := s.log.With(zap.String("run_id", stats.RunID))

	users, err := s.repo.UsersDueForSummary(ctx, now, s.opts.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("due users: %w", err)
	}
	stats.Due = len(users)
	if len(users) == 0 {
		log.Debug("no users due")
		return stats, nil
	}

	s.state.Store(int32(StateProcessing))
	log.Info("tick started", zap.Int("due", len(users)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := s.processUser(ctx, log, u, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeDelivered:
				stats.Delivered++
			case outcomeSkipped:
				stats.Skipped++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("tick complete",
		zap.Int("due", stats.Due),
		zap.Int("success", stats.Delivered),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Failed),
	)
	return stats, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDelivered
	outcomeSkipped
)

func (s *Scheduler) processUser(ctx context.Context, log *zap.Logger, u domain.User, now time.Time) (out outcome) {
	log = log.With(zap.Int64("user_id", u.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("digest panicked", zap.Any("panic", r))
			out = outcomeFailed
		}
	}()

	res, err := s.runner.Run(ctx, u, now)
	switch {
	case err == nil:
		log.Info("digest delivered",
			zap.Int("channels", res.Channels),
			zap.Int("failed_channels", res.Failed),
			zap.Int("messages", res.Messages),
			zap.Int("chunks", res.Chunks),
			zap.Bool("partial", res.Partial),
		)
		return outcomeDelivered
	case errors.Is(err, digest.ErrNoChannels):
		log.Debug("user has no channels, skipping")
		return outcomeSkipped
	case errors.Is(err, digest.ErrInProgress):
		// An on-demand digest holds the user; it marks them when it delivers.
		log.Info("digest already running for user, skipping")
		return outcomeSkipped
	default:
		log.Error("digest failed", zap.Bool("delivered", res.Delivered), zap.Error(err))
		return outcomeFailed
	}
}
