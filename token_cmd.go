package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/elma1989/join/account"
	"github.com/elma1989/join/config"
)

var (
	tokenCount  int
	tokenPrefix string
	tokenStart  int
	tokenOutput string
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue bearer tokens with the local signing secret",
	Long: `Issue bearer tokens signed with auth.secret. Useful for load tests and
for scripting against the API without going through the login form.
Only available in local auth mode.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.Mode != config.AuthLocal {
			return errors.New("tokens can only be issued in local auth mode")
		}
		if len(cfg.Auth.Secret) < 16 {
			return errors.New("auth.secret must be at least 16 characters")
		}
		if tokenCount < 1 || tokenStart < 1 {
			return errors.New("count and start must be at least 1")
		}
		if len(args) > 0 && tokenCount > 1 {
			return errors.New("an explicit user id cannot be combined with count > 1")
		}
		issuer := &account.Tokens{
			Secret:   []byte(cfg.Auth.Secret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			TTL:      cfg.Auth.TokenTTL,
		}
		tokens, err := issueTokens(issuer, userIDs(args, tokenCount, tokenPrefix, tokenStart))
		if err != nil {
			return err
		}
		if tokenOutput != "" {
			if err := writeTokens(tokenOutput, tokens); err != nil {
				return fmt.Errorf("write tokens: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVar(&tokenCount, "count", 1, "number of tokens to issue")
	tokenCmd.Flags().StringVar(&tokenPrefix, "prefix", "load-user", "user id prefix when no id is given")
	tokenCmd.Flags().IntVar(&tokenStart, "start", 1, "first index appended to the prefix when count > 1")
	tokenCmd.Flags().StringVarP(&tokenOutput, "output", "o", "", "write all tokens to this file as a JSON array")
	rootCmd.AddCommand(tokenCmd)
}

func userIDs(args []string, count int, prefix string, start int) []string {
	if len(args) > 0 {
		return []string{args[0]}
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func issueTokens(issuer *account.Tokens, ids []string) ([]string, error) {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tok, _, err := issuer.Issue(id)
		if err != nil {
			return nil, fmt.Errorf("issue token for %s: %w", id, err)
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
