package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/unibox/internal/channels/telegram"
)

func telegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Telegram bot administration",
	}
	cmd.AddCommand(telegramSetWebhookCmd())
	cmd.AddCommand(telegramWebhookInfoCmd())
	return cmd
}

func newCLIBot() (*telego.Bot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tg := cfg.Channels.Telegram
	if tg.Token == "" {
		return nil, fmt.Errorf("channels.telegram.token is not set")
	}
	return telegram.NewBot(telegram.Config{Token: tg.Token, APIServer: tg.APIServer})
}

func telegramSetWebhookCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Point the bot at <public_url>/webhook/telegram with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				if cfg.Gateway.PublicURL == "" {
					return fmt.Errorf("pass --url or set gateway.public_url")
				}
				url = strings.TrimRight(cfg.Gateway.PublicURL, "/") + "/webhook/telegram"
			}
			bot, err := newCLIBot()
			if err != nil {
				return err
			}
			err = bot.SetWebhook(context.Background(), &telego.SetWebhookParams{
				URL:         url,
				SecretToken: cfg.Channels.Telegram.WebhookSecret,
			})
			if err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			fmt.Printf("webhook set: %s (secret token %v)\n", url, cfg.Channels.Telegram.WebhookSecret != "")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "full webhook URL (default: <gateway.public_url>/webhook/telegram)")
	return cmd
}

func telegramWebhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook-info",
		Short: "Show the bot's current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := newCLIBot()
			if err != nil {
				return err
			}
			info, err := bot.GetWebhookInfo(context.Background())
			if err != nil {
				return fmt.Errorf("get webhook info: %w", err)
			}
			fmt.Printf("url:              %s\n", info.URL)
			fmt.Printf("pending updates:  %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Printf("last error:       %s\n", info.LastErrorMessage)
			}
			return nil
		},
	}
}
