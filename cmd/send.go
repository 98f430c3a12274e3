package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/inbox"
)

func sendCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "send <channel> <recipient_id> <text>",
		Short: "Send a text message as an agent and record it in the inbox",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			registry, err := buildRegistry(cfg, newExecutor(cfg))
			if err != nil {
				return err
			}
			adapter, err := registry.Lookup(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			sent, err := adapter.Send(ctx, channels.SendRequest{
				ConversationID: conversationID,
				RecipientID:    args[1],
				Type:           bus.TypeText,
				Text:           args[2],
			})
			if err != nil {
				return err
			}
			// No bus subscribers here; the message.new event is dropped.
			saved, err := inbox.NewProcessor(stores.Conversations, stores.Messages, bus.New()).Process(ctx, *sent)
			if err != nil {
				return err
			}
			fmt.Printf("sent %s to %s (conversation %s)\n", saved.MessageID, args[1], saved.ConversationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: <channel>:<recipient_id>)")
	return cmd
}
