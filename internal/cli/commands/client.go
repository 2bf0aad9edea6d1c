package commands

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/pkg/client"
)

var clientOpts struct {
	control    string
	storage    string
	user       string
	token      string
	statusByte bool
	tls        bool
	insecure   bool
	timeout    time.Duration
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run storage operations against a server",
	Long: `Run one storage operation against a running server.

Each command opens a session, logs in when --user is set, asks the control
plane for an operation key and spends it on the storage plane. The token
may also come from DITTOSTORE_TOKEN.`,
}

func init() {
	f := clientCmd.PersistentFlags()
	f.StringVar(&clientOpts.control, "control", "127.0.0.1:8888", "control plane address")
	f.StringVar(&clientOpts.storage, "storage", "127.0.0.1:8889", "storage plane address")
	f.StringVarP(&clientOpts.user, "user", "u", "", "log in as this user")
	f.StringVar(&clientOpts.token, "token", "", "login token (default $DITTOSTORE_TOKEN)")
	f.BoolVar(&clientOpts.statusByte, "status-byte", false, "server prefixes read replies with a status byte")
	f.BoolVar(&clientOpts.tls, "tls", false, "connect with TLS")
	f.BoolVar(&clientOpts.insecure, "insecure", false, "skip TLS certificate verification")
	f.DurationVar(&clientOpts.timeout, "timeout", client.DefaultTimeout, "per-request timeout")

	clientCmd.AddCommand(
		&cobra.Command{
			Use:   "mkdir <path>",
			Short: "Create a directory",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
				return c.Mkdir(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "put <local file> <path>",
			Short: "Upload a file",
			Args:  cobra.ExactArgs(2),
			RunE:  withClient(runPut),
		},
		&cobra.Command{
			Use:   "get <path> [local file]",
			Short: "Download a file, to stdout without a local file",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  withClient(runGet),
		},
		&cobra.Command{
			Use:   "rm <path>",
			Short: "Delete a file or a directory with its contents",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
				return c.Delete(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "tree [path]",
			Short: "Print the tree below a directory as JSON",
			Args:  cobra.MaximumNArgs(1),
			RunE:  withClient(runTree),
		},
		&cobra.Command{
			Use:   "permissions",
			Short: "Print the permissions of the session",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, _ []string) error {
				names, err := c.Control.Permissions(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}),
		},
	)
	rootCmd.AddCommand(clientCmd)
}

type clientFunc func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error

// withClient dials, logs in when asked, runs fn and closes the session.
func withClient(fn clientFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var tlsConfig *tls.Config
		if clientOpts.tls {
			tlsConfig = &tls.Config{InsecureSkipVerify: clientOpts.insecure} //nolint:gosec // opt-in flag
		}

		c, err := client.Dial(ctx, client.Config{
			ControlAddr: clientOpts.control,
			StorageAddr: clientOpts.storage,
			TLS:         tlsConfig,
			StatusByte:  clientOpts.statusByte,
			Timeout:     clientOpts.timeout,
		})
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		if clientOpts.user != "" {
			token := clientOpts.token
			if token == "" {
				token = os.Getenv("DITTOSTORE_TOKEN")
			}
			if _, err := c.Login(ctx, clientOpts.user, token); err != nil {
				return err
			}
		}

		return fn(ctx, cmd, c, args)
	}
}

func runPut(ctx context.Context, _ *cobra.Command, c *client.Client, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}
	return c.Put(ctx, args[1], f, info.Size())
}

func runGet(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
	var w io.Writer = cmd.OutOrStdout()
	if len(args) == 2 {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	_, err := c.Get(ctx, args[0], w)
	return err
}

func runTree(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	tree, err := c.Tree(ctx, path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}
