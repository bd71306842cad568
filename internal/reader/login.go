package reader

import (
	"context"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// CodePrompt returns the login code Telegram sent to the account.
type CodePrompt func(ctx context.Context) (string, error)

// Login runs the interactive user login once and persists the session to
// opts.SessionPath. It is a no-op if the session is already authorized.
func Login(ctx context.Context, opts Options, phone, password string, prompt CodePrompt, log *zap.Logger) error {
	tc, err := newTelegramClient(opts, log)
	if err != nil {
		return err
	}

	code := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		return prompt(ctx)
	})
	flow := auth.NewFlow(auth.Constant(phone, password, code), auth.SendCodeOptions{})

	return tc.Run(ctx, func(ctx context.Context) error {
		if err := tc.Auth().IfNecessary(ctx, flow); err != nil {
			return err
		}
		status, err := tc.Auth().Status(ctx)
		if err != nil {
			return err
		}
		log.Info("logged in", zap.String("user", status.User.Username), zap.Int64("id", status.User.ID))
		return nil
	})
}
