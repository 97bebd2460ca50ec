package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// CodePrompt asks the user for the login code Telegram sent.
type CodePrompt func(ctx context.Context) (string, error)

// Login authorizes the session file with a phone number, prompting for the
// code. password is the two-step verification password, if any.
func Login(ctx context.Context, cfg Config, phone, password string, prompt CodePrompt) error {
	c := New(cfg)
	client, err := c.newTelegramClient()
	if err != nil {
		return err
	}

	codeAuth := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		return prompt(ctx)
	})
	flow := auth.NewFlow(auth.Constant(phone, password, codeAuth), auth.SendCodeOptions{})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("telegram login: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("telegram self: %w", err)
		}
		fmt.Printf("Logged in as %s (id %d). Session saved to %s\n", userName(self), self.ID, cfg.SessionPath)
		return nil
	})
}
