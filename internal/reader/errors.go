package reader

import (
	"context"
	"errors"

	"github.com/gotd/td/tgerr"
)

// RPC error types that mean the channel will stay unreadable until someone acts.
var (
	privateTypes = []string{
		"CHANNEL_PRIVATE",
		"CHANNEL_PUBLIC_GROUP_NA",
		"CHAT_FORBIDDEN",
		"USER_BANNED_IN_CHANNEL",
	}
	notFoundTypes = []string{
		"USERNAME_NOT_OCCUPIED",
		"CHANNEL_INVALID",
		"PEER_ID_INVALID",
	}
	invalidHandleTypes = []string{
		"USERNAME_INVALID",
	}
	revokedTypes = []string{
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	}
)

// classify maps an MTProto or transport error into the reader taxonomy.
func classify(handle string, err error) error {
	if err == nil {
		return nil
	}
	var re *ReadError
	if errors.As(err, &re) {
		return err
	}

	switch {
	case tgerr.Is(err, privateTypes...):
		return &ReadError{Handle: handle, Fatal: true, Err: errors.Join(ErrChannelPrivate, err)}
	case tgerr.Is(err, notFoundTypes...):
		return &ReadError{Handle: handle, Fatal: true, Err: errors.Join(ErrChannelNotFound, err)}
	case tgerr.Is(err, invalidHandleTypes...):
		return &ReadError{Handle: handle, Fatal: true, Err: errors.Join(ErrInvalidHandle, err)}
	case tgerr.Is(err, revokedTypes...):
		return &ReadError{Handle: handle, Fatal: true, Err: errors.Join(ErrUnauthorized, err)}
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return &ReadError{Handle: handle, RetryAfter: d, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ReadError{Handle: handle, Err: err}
	}
	// Unknown failures are treated as retryable; the next tick tries again.
	return &ReadError{Handle: handle, Err: err}
}

func fatal(handle string, err error) error {
	return &ReadError{Handle: handle, Fatal: true, Err: err}
}
