package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hearth/internal/alert"
	"hearth/internal/notify"
)

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Inspect alerts and exercise the notifier",
	}
	cmd.AddCommand(alertTestCmd(), alertListCmd(), alertProbeCmd())
	return cmd
}

func alertTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [message]",
		Short: "Send a test notification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := "hearth can reach you."
			if len(args) == 1 {
				body = args[0]
			}
			n := newNotifier()
			if err := n.Notify(cmd.Context(), notify.Message{Title: "Test notification", Body: body}); err != nil {
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent via %s\n", n.Name())
			return nil
		},
	}
}

func alertListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			alerts, err := repo.ListAlerts(cmd.Context(), active)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tFIRED\tCOUNT\tSTATE\tMESSAGE")
			for _, a := range alerts {
				state := "firing"
				if a.ResolvedAt != nil {
					state = "resolved " + a.ResolvedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.Key, a.FiredAt.Local().Format(time.DateTime), a.Count, state, a.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only alerts that have not resolved")
	return cmd
}

func alertProbeCmd() *cobra.Command {
	var notifyFlag bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run every probe once and print the observations",
		Long: `probe runs the WAN, service port, SMART and container probes once. With
--notify the observations also go through the alert engine, firing and
resolving alerts exactly as the server would.`,
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
			var engine *alert.Engine
			if notifyFlag {
				engine = newAlertEngine(ctx, repo, nil)
			}
			registry, err := newProbeRegistry(inv, engine, newDialer())
			if err != nil {
				return err
			}

			obs, syncErr := registry.SyncAll(ctx)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			unhealthy := 0
			for _, o := range obs {
				state := "ok"
				if !o.Healthy {
					state = "FAIL"
					unhealthy++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Source, o.Kind, o.Subject, state, o.Detail)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if syncErr != nil {
				return syncErr
			}
			if unhealthy > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "feed results to the alert engine and send notifications")
	return cmd
}
