package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hearth/internal/codec"
	"hearth/internal/domain"
	"hearth/internal/loader"
)

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show, export or initialise the deployment inventory",
	}
	cmd.AddCommand(inventoryShowCmd(), inventoryExportCmd(), inventoryInitCmd())
	return cmd
}

func inventoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print hosts and the services pinned to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			return printInventory(cmd.OutOrStdout(), inv)
		},
	}
}

func printInventory(out io.Writer, inv *domain.Inventory) error {
	fmt.Fprintf(out, "Domain %s, owner %d:%d, media %s (%s)\n\n",
		inv.Domain, inv.Ownership.UID, inv.Ownership.GID, inv.Media.Root, strings.Join(inv.Media.Categories, ", "))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, h := range inv.Hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, h.Tier, h.Address, h.Description)
		for _, s := range inv.ServicesOn(h.ID) {
			ports := make([]string, len(s.Ports))
			for i, p := range s.Ports {
				ports[i] = p.String()
			}
			kind := s.Daemon
			if s.Container {
				kind = "container"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Name, kind, strings.Join(ports, " "), s.DNSName)
		}
	}
	if r := inv.Replication; r != nil {
		fmt.Fprintf(tw, "\nreplication\t%s:%s -> %s:%s\tat %s\t\n", r.Source, r.SourcePath, r.Destination, r.DestPath, r.Schedule)
	}
	return tw.Flush()
}

func inventoryExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the inventory as " + strings.Join(codec.Formats(), ", "),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			exp, err := codec.ExporterFor(format)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return exp.Export(inv, out)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", codec.FormatYAML, "output format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func inventoryInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the built-in reference inventory to a file to edit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "inventory.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, loader.DefaultYAML(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
