package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Owner API token commands",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash [token]",
	Short: "Print the bcrypt hash of a token for api.tokens",
	Long: `Print the bcrypt hash of a token for api.tokens.

The token is read from stdin when no argument is given, which keeps it out of
shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokenHash,
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random token and print it with its hash",
	RunE:  runTokenGenerate,
}

func init() {
	tokenCmd.AddCommand(tokenHashCmd, tokenGenerateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token := generateRandomString(40)
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "Hash:  %s\n\n", hash)
	fmt.Fprintln(out, "Add the hash to api.tokens; the token is not shown again.")
	return nil
}
