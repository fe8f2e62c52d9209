package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reverie/internal/runtime"
	"reverie/internal/types"
)

var (
	sendRoom    string
	sendAuthor  string
	sendTimeout time.Duration
)

// sendCmd runs one message through the pipeline and prints the replies.
var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send one message to the agent and print its response",
	Long: `Delivers a single message into a room, waits for the pipeline to
finish, and prints every event the agent produced. The room is created
on first use, and the exchange is persisted like any other; a later
"reverie run" picks up the same history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: sendMessage,
}

func init() {
	sendCmd.Flags().StringVar(&sendRoom, "room", "cli", "Room to speak in")
	sendCmd.Flags().StringVar(&sendAuthor, "author", "operator", "Author ID for the message")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "How long to wait for the response")

	rootCmd.AddCommand(sendCmd)
}

func sendMessage(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	agent, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer agent.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := agent.Store().EnsureRoom(ctx, &types.Room{
		ID:          sendRoom,
		Name:        sendRoom,
		ChannelType: types.ChannelGroup,
	}); err != nil {
		return err
	}

	out, err := agent.Process(ctx, &types.Event{
		RoomID:   sendRoom,
		AuthorID: sendAuthor,
		Content:  types.Content{Text: strings.Join(args, " ")},
	})
	if err != nil {
		return err
	}

	if out.Degraded {
		fmt.Fprintln(cmd.ErrOrStderr(), "(model unavailable; degraded response)")
	}
	if verbose && out.Decision != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "thought: %s\nactions: %s\n",
			out.Decision.Thought, strings.Join(out.Decision.Actions, ", "))
	}
	if len(out.Outputs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no response)")
		return nil
	}
	for _, ev := range out.Outputs {
		fmt.Fprintln(cmd.OutOrStdout(), ev.Content.Text)
	}
	return nil
}
