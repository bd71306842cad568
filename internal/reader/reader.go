// Package reader reads public and joined channels through a full Telegram
// user account (MTProto). Bots cannot read channel history, so this is a
// separate connection from the Bot API used for delivery.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ykvlv/digest-bot/internal/domain"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelPrivate  = errors.New("channel is private and the reading account is not a member")
	ErrNotChannel      = errors.New("peer is not a channel")
	ErrInvalidHandle   = domain.ErrInvalidHandle
	ErrUnauthorized    = errors.New("telegram session is not authorized, run the login command first")
)

// Channel is a resolved channel peer.
type Channel struct {
	ID         int64
	AccessHash int64
	Handle     string
	Title      string
}

// Reader is what the digest pipeline and the command layer need from the
// reading account. FetchMessages returns messages newest first, each with
// Date strictly after since.
type Reader interface {
	ResolveChannel(ctx context.Context, handle string) (Channel, error)
	CheckAccess(ctx context.Context, handle string) (Channel, error)
	FetchMessages(ctx context.Context, ch Channel, since time.Time) ([]domain.Message, error)
}

// ReadError carries the failing channel and whether retrying can help.
// Fatal errors (private, missing, revoked access) need manual action;
// transient ones (network, flood wait, timeouts) may succeed next tick.
type ReadError struct {
	Handle     string
	Fatal      bool
	RetryAfter time.Duration
	Err        error
}

func (e *ReadError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("read @%s (%s): %v", e.Handle, kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a read error that will not go away by itself.
func IsFatal(err error) bool {
	var re *ReadError
	return errors.As(err, &re) && re.Fatal
}

// IsTransient reports whether err is a retryable read error.
func IsTransient(err error) bool {
	var re *ReadError
	return errors.As(err, &re) && !re.Fatal
}
