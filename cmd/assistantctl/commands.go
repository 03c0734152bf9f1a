package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lynnbot/assistant-server-go/internal/audit"
)

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "assistantctl",
		Short:         "Operator tasks for the calendar and knowledge assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAuthLinkCmd(open),
		newResetCmd(open),
		newRevokeCmd(open),
		newMigrateCmd(open),
		newKnowledgeCmd(open),
	)
	return root
}

// withBackend opens the backend for one command run and closes it afterwards.
func withBackend(open openFunc, fn func(b backend) error) error {
	b, err := open()
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

// --- auth-link ---

func newAuthLinkCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth-link",
		Short: "Print the link users open to grant calendar access",
		Long: `Print the link users open to grant calendar access.

By default this is the server's /oauth/authorize page, which issues a fresh
state on every visit. With --direct a single-use consent URL is minted now and
expires after ten minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			direct, _ := cmd.Flags().GetBool("direct")
			return withBackend(open, func(b backend) error {
				if !direct {
					fmt.Fprintln(cmd.OutOrStdout(), b.AuthLink())
					return nil
				}
				url, err := b.DirectAuthURL(cmd.Context())
				if err != nil {
					return fmt.Errorf("generate auth url: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
	cmd.Flags().Bool("direct", false, "mint a single-use provider consent URL")
	return cmd
}

// --- reset ---

func newResetCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <open_id>",
		Short: "Erase a user's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			openID := strings.TrimSpace(args[0])
			if openID == "" {
				return fmt.Errorf("open_id is required")
			}
			return withBackend(open, func(b backend) error {
				if err := b.ResetHistory(cmd.Context(), openID); err != nil {
					return err
				}
				audit.Log(cmd.Context(), audit.Event{
					Type:    audit.EventHistoryReset,
					UserID:  openID,
					Details: map[string]interface{}{"source": "cli"},
				})
				fmt.Fprintf(cmd.OutOrStdout(), "history cleared for %s\n", openID)
				return nil
			})
		},
	}
}

// --- revoke ---

func newRevokeCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <open_id>",
		Short: "Delete a user's stored calendar credentials",
		Long: `Delete a user's stored calendar credentials.

The user has to open the auth link again before calendar tools work for them.
Conversation history is kept; use reset to erase it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			openID := strings.TrimSpace(args[0])
			if openID == "" {
				return fmt.Errorf("open_id is required")
			}
			return withBackend(open, func(b backend) error {
				if err := b.RevokeCredential(cmd.Context(), openID); err != nil {
					return fmt.Errorf("revoke credentials: %w", err)
				}
				audit.Log(cmd.Context(), audit.Event{
					Type:    audit.EventCredentialRevoked,
					UserID:  openID,
					Details: map[string]interface{}{"source": "cli"},
				})
				fmt.Fprintf(cmd.OutOrStdout(), "credentials revoked for %s\n", openID)
				return nil
			})
		},
	}
}

// --- migrate ---

func newMigrateCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(open, func(b backend) error {
				applied, err := b.Migrate(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied migration %03d\n", v)
				}
				return nil
			})
		},
	}
}

// --- knowledge ---

func newKnowledgeCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge corpus",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add an entry to the knowledge corpus",
		Long: `Add an entry to the knowledge corpus.

Examples:
  assistantctl knowledge add --text "Annual leave is 15 working days."
  assistantctl knowledge add --file ./handbook.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			file, _ := cmd.Flags().GetString("file")

			content := text
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading file: %w", err)
				}
				content = string(data)
			}
			content = strings.TrimSpace(content)
			if content == "" {
				return fmt.Errorf("one of --text or --file is required")
			}

			return withBackend(open, func(b backend) error {
				id, err := b.AddKnowledge(cmd.Context(), content)
				if err != nil {
					return fmt.Errorf("add knowledge: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added knowledge entry %d\n", id)
				return nil
			})
		},
	}
	add.Flags().String("text", "", "entry text")
	add.Flags().String("file", "", "read entry text from a file")

	cmd.AddCommand(add)
	return cmd
}
