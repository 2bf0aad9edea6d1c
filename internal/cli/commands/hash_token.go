package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/pkg/authz"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Print the digest of a login token",
	Long: `Print the digest to put in authorization.users[].token_digest.

Without an argument the token is read from the first line of stdin, which
keeps it out of the shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimRight(line, "\r\n")
	}
	if token == "" {
		return errors.New("token is empty")
	}

	fmt.Fprintln(cmd.OutOrStdout(), authz.HashToken(token))
	return nil
}
