package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"hearth/internal/adapter"
	"hearth/internal/audit"
	"hearth/internal/domain"
)

func checkCmd() *cobra.Command {
	var (
		live      bool
		scan      bool
		scanPorts string
		localHost string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Audit the inventory against the layout conventions",
		Long: `check runs the static rules (ports, directories, media layout, DNS names,
replication direction, ownership). With --live it also checks this host's
service directories and probes every declared TCP port; --scan adds an nmap
scan for ports no service declares. Exits 1 when any error is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}

			profile := cfg.ProbeProfile()
			opts := audit.LiveOptions{LocalHost: localHost}
			if live {
				opts.Ports = adapter.NewVerifierAdapter(inv, adapter.VerifierConfig{
					PortTimeout:   profile.ProbeTimeout,
					MaxConcurrent: profile.MaxConcurrent,
				})
				if scan {
					opts.Scanner = adapter.NewNmapScanner(scanPortOptions(scanPorts)...)
				}
			}

			report := audit.Run(cmd.Context(), inv, live, opts)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := printFindings(out, report); err != nil {
				return err
			}

			if report.HasErrors() {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "also check directories and ports on the real deployment")
	cmd.Flags().BoolVar(&scan, "scan", false, "with --live, nmap every host for undeclared ports")
	cmd.Flags().StringVar(&scanPorts, "scan-ports", "", `ports for --scan: "fast", "all" or an nmap range such as 1-1024,8080`)
	cmd.Flags().StringVar(&localHost, "host", "", "inventory ID of this machine (default: match the hostname)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func scanPortOptions(ports string) []adapter.NmapOption {
	switch ports {
	case "":
		return nil
	case "fast":
		return []adapter.NmapOption{adapter.WithFastScan()}
	case "all":
		return []adapter.NmapOption{adapter.WithAllPorts()}
	default:
		return []adapter.NmapOption{adapter.WithPortRange(ports)}
	}
}

func printFindings(out io.Writer, r audit.Report) error {
	if len(r.Findings) == 0 {
		fmt.Fprintln(out, "No findings.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range r.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Severity, f.Check, f.Subject, f.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d error(s), %d warning(s), %d info\n",
		r.Counts[domain.SeverityError], r.Counts[domain.SeverityWarn], r.Counts[domain.SeverityInfo])
	return nil
}
