package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hearth/internal/domain"
	"hearth/internal/replicate"
)

func replicateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Pull the media library from the ingest host once",
		Long: `replicate runs rsync on this (serving) host to mirror the ingest host's
media root. The run is recorded in the history database, and a failure
raises a replication alert.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx := cmd.Context()
			deps := replicate.Deps{Store: repo}
			if !dryRun {
				deps.Alerts = newAlertEngine(ctx, repo, nil)
			}
			r := newReplicator(inv, dryRun, deps)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "$ %s\n", strings.Join(replicate.BuildCommand(r.Options()), " "))

			run, err := r.Run(ctx)
			if run != nil {
				printRun(cmd, run)
			}
			if err != nil {
				return err
			}
			if run.Status == domain.RunFailed {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would transfer without changing anything")
	return cmd
}

func printRun(cmd *cobra.Command, run *domain.ReplicationRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nrun %s: %s (exit %d) in %s\n", run.ID, run.Status, run.ExitCode, run.Duration().Round(time.Second))
	s := run.Stats
	fmt.Fprintf(out, "  files %d, transferred %d, deleted %d\n", s.Files, s.FilesTransferred, s.FilesDeleted)
	fmt.Fprintf(out, "  size %d bytes, transferred %d bytes\n", s.TotalSize, s.TransferredSize)
	if run.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", run.Error)
	}
}
