package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/socpm/pmres/internal/infra/resource"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show [RESOURCE]",
	Short: "Show the board's resources and voltage domains",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		snap, err := d.Framework.Get(args[0])
		if err != nil {
			return err
		}
		printResource(out, snap)
		return nil
	}

	if err := printResources(out, d.Framework.List()); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return printDomains(out, d.Framework.Domains())
}

func printResource(out io.Writer, s resource.Snapshot) {
	fmt.Fprintf(out, "Name:     %s\n", s.Name)
	fmt.Fprintf(out, "Kind:     %s\n", s.Kind)
	fmt.Fprintf(out, "Level:    %s\n", s.Level)
	fmt.Fprintf(out, "Default:  %s\n", s.Default)
	fmt.Fprintf(out, "Users:    %d\n", s.Users)
	for _, r := range s.Requests {
		fmt.Fprintf(out, "  %-24s %s\n", r.Client, r.Level)
	}
}

func printResources(out io.Writer, snaps []resource.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tLEVEL\tUSERS")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Name, s.Kind, s.Level, s.Users)
	}
	return w.Flush()
}

func printDomains(out io.Writer, doms []resource.DomainSnapshot) error {
	if len(doms) == 0 {
		fmt.Fprintln(out, "No OPP tables loaded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VDD\tRESOURCE\tOPP\tRATE\tVSEL\tLOCKS")
	for _, d := range doms {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d kHz\t0x%02x\t%d\n",
			d.VDD, d.Resource, d.OPPID, d.Rate/1000, d.VSel, d.Locks)
	}
	return w.Flush()
}
