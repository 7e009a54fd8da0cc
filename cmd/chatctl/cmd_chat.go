package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/itorigin/origin-chat/internal/chatclient"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the public chat endpoint.

Commands inside the session:
  /new    start a new conversation
  /id     print the current conversation id
  /quit   exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("name", "", "Visitor name")
	chatCmd.Flags().String("email", "", "Visitor email")
	chatCmd.Flags().String("resume", "", "Continue an existing conversation id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	resume, _ := cmd.Flags().GetString("resume")

	session := chatclient.NewSession(serverURL(cmd))
	session.SetVisitor(name, email)
	if resume != "" {
		if err := session.Resume(resume); err != nil {
			return err
		}
	}

	return chatLoop(ctx, session, cmd.InOrStdin(), cmd.OutOrStdout())
}

type chatSession interface {
	Send(ctx context.Context, text string, onToken func(string)) (*chatclient.Reply, error)
	Reset() error
	ConversationID() string
}

func chatLoop(ctx context.Context, session chatSession, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Type a message, /new for a new conversation, /quit to exit.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/id":
			fmt.Fprintln(out, session.ConversationID())
			continue
		case "/new":
			if err := session.Reset(); err != nil {
				fmt.Fprintf(out, "cannot reset: %v\n", err)
			}
			continue
		}

		_, err := session.Send(ctx, line, func(tok string) { fmt.Fprint(out, tok) })
		fmt.Fprintln(out)
		switch {
		case err == nil:
		case errors.Is(err, chatclient.ErrConversationNotFound):
			fmt.Fprintln(out, "This conversation no longer exists. Starting a new one.")
			_ = session.Reset()
		case ctx.Err() != nil:
			return nil
		default:
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
