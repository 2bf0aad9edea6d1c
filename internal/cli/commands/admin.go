package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/pkg/server"
)

var (
	sweepDryRun        bool
	sweepRemoveOrphans bool

	auditLimit int
	auditJSON  bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one consistency sweep on a stopped server's data",
	Long: `Compare the metadata store with the content store once and repair the
differences. File records whose content is missing or has another size are
dropped, and so are directory records missing from the cloud folder together
with everything below them.

The command takes the data-dir lock, so the server must not be running.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the most recent storage operations",
	Long: `Print the audit trail of the storage plane, newest first.

The command takes the data-dir lock, so the server must not be running.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report without repairing")
	sweepCmd.Flags().BoolVar(&sweepRemoveOrphans, "remove-orphans", false, "also delete content that has no record")
	rootCmd.AddCommand(sweepCmd)

	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "number of records")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print JSON lines")
	rootCmd.AddCommand(auditCmd)
}

// openOffline opens the stores of a stopped server.
func openOffline(ctx context.Context) (*server.Server, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Consistency.DryRun = cfg.Consistency.DryRun || sweepDryRun
	cfg.Consistency.RemoveOrphans = cfg.Consistency.RemoveOrphans || sweepRemoveOrphans
	cfg.Metrics.Enabled = false

	return server.New(ctx, cfg, nil)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := openOffline(ctx)
	if err != nil {
		return err
	}
	defer srv.Close()

	stats, err := srv.Sweeper().RunNow(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, stats.Summary())
	fmt.Fprintf(out, "missing content:     %d\n", stats.MissingContent)
	fmt.Fprintf(out, "size mismatches:     %d\n", stats.SizeMismatches)
	fmt.Fprintf(out, "missing directories: %d\n", stats.MissingDirectories)
	fmt.Fprintf(out, "orphan content:      %d\n", stats.OrphanContent)
	fmt.Fprintf(out, "repaired:            %d\n", stats.Repaired)
	if stats.Failed > 0 {
		return fmt.Errorf("%d repairs failed", stats.Failed)
	}
	return nil
}

func runAudit(cmd *cobra.Command, _ []string) error {
	srv, err := openOffline(cmd.Context())
	if err != nil {
		return err
	}
	defer srv.Close()

	records, err := srv.Metadata().ListAudit(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATION\tOUTCOME\tBYTES\tUSER\tPATH")
	for _, r := range records {
		user := "-"
		if r.UserID != nil {
			user = fmt.Sprint(*r.UserID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.At.Format("2006-01-02 15:04:05"), r.Operation, r.Outcome, r.Bytes, user, r.Path)
	}
	return w.Flush()
}
