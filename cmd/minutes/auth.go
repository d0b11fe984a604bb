package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MrWong99/minutes/internal/credentials"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys in the system keyring",
		Long: `Manage provider API keys in the system keyring.

A stored key is used for a provider entry that has no api_key of its own
and when the top-level api_key is empty. OPENAI_API_KEY is consulted last.`,
	}

	setKey := &cobra.Command{
		Use:   "set-key <provider>",
		Short: "Store the API key of a provider",
		Long: `Store the API key of a provider such as openai or anthropic. The key is
read from the terminal without echo, or from stdin when piped.

Examples:
  minutes auth set-key openai
  echo "$ANTHROPIC_KEY" | minutes auth set-key anthropic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.ErrOrStderr(), "API key for %s: ", args[0])
			key, err := readSecret(cmd.InOrStdin())
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := credentials.Set(args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Stored in %s.\n", credentials.Backend())
			return nil
		},
	}

	deleteKey := &cobra.Command{
		Use:   "delete-key <provider>",
		Short: "Remove the stored API key of a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return credentials.Delete(args[0])
		},
	}

	status := &cobra.Command{
		Use:   "status [provider...]",
		Short: "Report which providers have a stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"openai", "anthropic", "gemini", "mistral", "deepseek", "groq"}
			}
			for _, p := range args {
				key, err := credentials.Get(p)
				if err != nil {
					return err
				}
				state := "not set"
				if key != "" {
					state = "stored"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", p, state)
			}
			return nil
		},
	}

	cmd.AddCommand(setKey, deleteKey, status)
	return cmd
}

// readSecret reads one line from r without echo when r is a terminal.
func readSecret(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
