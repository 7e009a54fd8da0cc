package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/itorigin/origin-chat/internal/chatclient"
	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Browse and manage conversations",
	Long: `Browse and manage conversations through the admin API.

Examples:
  chatctl conversations list --search @example.com --page 2
  chatctl conversations show 3f0c...
  chatctl conversations status 3f0c... archived
  chatctl conversations delete 3f0c... --yes`,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently active first",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsStatusCmd = &cobra.Command{
	Use:       "status <id> <active|closed|archived>",
	Short:     "Change a conversation's status",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"active", "closed", "archived"},
	RunE:      runConversationsStatus,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Permanently delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsStatusCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)

	conversationsCmd.PersistentFlags().String("admin-path", "/api/admin", "Admin API mount point")

	conversationsListCmd.Flags().String("status", "", "Filter by status (active, closed, archived)")
	conversationsListCmd.Flags().String("search", "", "Search visitor email")
	conversationsListCmd.Flags().Int("page", 1, "Page number")
	conversationsListCmd.Flags().Int("limit", domain.DefaultPageLimit, "Page size")

	conversationsDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

func adminClient(cmd *cobra.Command) (*chatclient.AdminClient, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return nil, fmt.Errorf("admin token required: set ADMIN_API_TOKEN or pass --token")
	}
	path, _ := cmd.Flags().GetString("admin-path")
	base := strings.TrimRight(serverURL(cmd), "/") + "/" + strings.Trim(path, "/")
	return chatclient.NewAdminClient(base, token, chatclient.WithTimeout(30*time.Second)), nil
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	client, err := adminClient(cmd)
	if err != nil {
		return err
	}
	status, _ := cmd.Flags().GetString("status")
	search, _ := cmd.Flags().GetString("search")
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")

	list, err := client.ListConversations(cmd.Context(), chatclient.ListOptions{
		Status: status, Search: search, Page: page, Limit: limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tVISITOR\tMESSAGES\tLAST ACTIVITY")
	for _, c := range list.Data {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.Status, visitorLabel(c), c.MessageCount, c.LastActivity().Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := list.Pagination
	fmt.Fprintf(out, "\npage %d of %d (%d total)\n", p.Page, p.TotalPages, p.Total)
	return nil
}

func visitorLabel(c *domain.Conversation) string {
	switch {
	case c.VisitorName != "" && c.VisitorEmail != "":
		return fmt.Sprintf("%s <%s>", c.VisitorName, c.VisitorEmail)
	case c.VisitorEmail != "":
		return c.VisitorEmail
	case c.VisitorName != "":
		return c.VisitorName
	default:
		return "-"
	}
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	client, err := adminClient(cmd)
	if err != nil {
		return err
	}
	detail, err := client.GetConversation(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	c := detail.Conversation
	fmt.Fprintf(out, "Conversation %s (%s)\n", c.ID, c.Status)
	fmt.Fprintf(out, "Visitor:  %s\n", visitorLabel(c))
	fmt.Fprintf(out, "Started:  %s\n", c.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Messages: %d\n\n", c.MessageCount)
	for _, m := range detail.Messages {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Role, m.Content)
	}
	return nil
}

func runConversationsStatus(cmd *cobra.Command, args []string) error {
	status, err := domain.ParseConversationStatus(args[1])
	if err != nil {
		return err
	}
	client, err := adminClient(cmd)
	if err != nil {
		return err
	}
	conv, err := client.UpdateStatus(cmd.Context(), args[0], status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s is now %s\n", conv.ID, conv.Status)
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("Delete conversation %s and all of its messages? This cannot be undone.", args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	client, err := adminClient(cmd)
	if err != nil {
		return err
	}
	n, err := client.DeleteConversation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s (%d messages)\n", args[0], n)
	return nil
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
