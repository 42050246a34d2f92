package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/infrastructure/logger"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, newest first",
	Long: `List the signed-in user's conversations from the message store.
When the store is unreachable the locally cached conversations are listed.`,
	RunE: runConversations,
}

func init() {
	conversationsCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")
}

type conversationRow struct {
	ID          string    `json:"id" yaml:"id"`
	Key         string    `json:"conversationId" yaml:"conversationId"`
	PeerID      string    `json:"partnerId" yaml:"partnerId"`
	PeerName    string    `json:"partnerName,omitempty" yaml:"partnerName,omitempty"`
	LastMessage string    `json:"lastMessage,omitempty" yaml:"lastMessage,omitempty"`
	LastAt      time.Time `json:"lastMessageTime,omitempty" yaml:"lastMessageTime,omitempty"`
	Unread      int       `json:"unreadCount" yaml:"unreadCount"`
}

type conversationList struct {
	Source        string            `json:"source" yaml:"source"`
	Conversations []conversationRow `json:"conversations" yaml:"conversations"`
}

func runConversations(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	format = strings.ToLower(format)
	if format != "table" && format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported output format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg)

	ctx := cmd.Context()
	app, cleanup, err := assemble(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	summaries, source, err := app.ctrl.ListConversations(ctx)
	if err != nil {
		return err
	}

	list := conversationList{Source: string(source), Conversations: make([]conversationRow, 0, len(summaries))}
	for _, s := range summaries {
		list.Conversations = append(list.Conversations, conversationRow{
			ID:          s.ID,
			Key:         s.Key.String(),
			PeerID:      s.PeerID,
			PeerName:    s.PeerName,
			LastMessage: s.LastMessage,
			LastAt:      s.LastMessageAt,
			Unread:      s.UnreadCount,
		})
	}
	return writeConversations(cmd.OutOrStdout(), format, list)
}

func writeConversations(w io.Writer, format string, list conversationList) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(list)
	}

	if list.Source == string(conversation.SourceCache) {
		fmt.Fprintln(w, "(store unavailable, showing cached conversations)")
	}
	if len(list.Conversations) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tNAME\tUNREAD\tLAST MESSAGE\tWHEN")
	for _, row := range list.Conversations {
		when := "-"
		if !row.LastAt.IsZero() {
			when = row.LastAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", row.PeerID, row.PeerName, row.Unread, preview(row.LastMessage, 40), when)
	}
	return tw.Flush()
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}
