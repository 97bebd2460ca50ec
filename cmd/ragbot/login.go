package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/openipc-ragbot/internal/adapter/telegram"
)

var (
	loginPhone    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Create the Telegram session file interactively",
	Long: `login signs in to Telegram with the configured application credentials
and stores the session at TELEGRAM_SESSION. It asks for the code Telegram
sends to the account; pass --password when two-step verification is on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.TelegramConfigured() {
			return errNoChatPlatform
		}
		phone := loginPhone
		if phone == "" {
			phone = cfg.TelegramPhone
		}
		if phone == "" {
			return fmt.Errorf("phone number required: use --phone or TELEGRAM_PHONE")
		}

		in := bufio.NewReader(cmd.InOrStdin())
		prompt := func(ctx context.Context) (string, error) {
			fmt.Fprint(cmd.OutOrStdout(), "Enter the code sent by Telegram: ")
			code, err := in.ReadString('\n')
			if err != nil {
				return "", fmt.Errorf("read code: %w", err)
			}
			return strings.TrimSpace(code), nil
		}

		return telegram.Login(cmd.Context(), telegramConfig(cfg), phone, loginPassword, prompt)
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPhone, "phone", "", "phone number in international format (default TELEGRAM_PHONE)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "two-step verification password")
}
