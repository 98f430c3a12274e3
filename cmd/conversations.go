package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect inbox conversations",
	}
	cmd.AddCommand(conversationsListCmd())
	cmd.AddCommand(conversationsShowCmd())
	return cmd
}

func conversationsListCmd() *cobra.Command {
	var (
		channel string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openCLIStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			opts := store.ConversationListOpts{Limit: limit}
			if channel != "" {
				opts.Channels = strings.Split(channel, ",")
			}
			convs, err := stores.Conversations.ListConversations(context.Background(), opts)
			if err != nil {
				return err
			}
			printConversations(os.Stdout, convs)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "comma-separated channel filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultConversationListLimit, "maximum rows")
	return cmd
}

func conversationsShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <conversation_id>",
		Short: "Print a conversation's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openCLIStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			msgs, err := stores.Messages.ListMessages(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("%s  %-6s %s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.Sender, store.Preview(bus.Message{Type: m.Type, Text: m.Text, Attachments: m.Attachments}))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultMessageListLimit, "maximum messages")
	return cmd
}

func openCLIStores() (*store.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStores(cfg)
}

const previewWidth = 40

// printConversations renders a fixed-width table. Widths are measured in
// terminal cells so names and previews in wide scripts stay aligned.
func printConversations(w io.Writer, convs []store.ConversationData) {
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		pad("CONVERSATION", 28), pad("MODE", 6), pad("LAST", 16), "LAST MESSAGE")
	for _, c := range convs {
		preview := strings.ReplaceAll(c.LastMessage, "\n", " ")
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			pad(c.ConversationID, 28),
			pad(string(c.ReplyMode), 6),
			pad(c.LastTS.Local().Format("2006-01-02 15:04"), 16),
			runewidth.Truncate(preview, previewWidth, "…"))
	}
}

func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}
