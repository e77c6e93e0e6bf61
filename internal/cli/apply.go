package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/socpm/pmres/internal/domain"
)

func init() {
	applyCmd.Flags().StringVar(&applyClient, "client", "cli", "Client name the requests are made as")
	applyCmd.Flags().BoolVar(&applyShow, "show", false, "Print every resource after applying")
	rootCmd.AddCommand(applyCmd)
}

var (
	applyClient string
	applyShow   bool
)

var applyCmd = &cobra.Command{
	Use:   "apply NAME=LEVEL|NAME=- ...",
	Short: "Apply requests to an in-process board and report the transitions",
	Long: `Apply a sequence of requests against a freshly booted board. LEVEL is a
number or "none"; "-" releases the client's request. Transitions are
journaled like the daemon's.

  pmres apply vdd1_opp=5 mpu_latency=100 vdd1_opp=-`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

type assignment struct {
	name    string
	level   domain.Level
	release bool
}

func parseAssignment(s string) (assignment, error) {
	name, val, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return assignment{}, fmt.Errorf("expected NAME=LEVEL, got %q", s)
	}
	if val == "-" {
		return assignment{name: name, release: true}, nil
	}
	lvl, err := domain.ParseLevel(val)
	if err != nil {
		return assignment{}, err
	}
	return assignment{name: name, level: lvl}, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	steps := make([]assignment, 0, len(args))
	for _, a := range args {
		s, err := parseAssignment(a)
		if err != nil {
			return err
		}
		steps = append(steps, s)
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tOP\tOUTCOME\tLEVEL\tERROR")

	var failed []error
	for _, s := range steps {
		op := "request"
		var outcome domain.Outcome
		if s.release {
			op = "release"
			outcome, err = d.Framework.Release(s.name, applyClient)
		} else {
			outcome, err = d.Framework.Request(s.name, applyClient, s.level)
		}
		snap, gerr := d.Framework.Get(s.name)
		if gerr != nil {
			w.Flush()
			return gerr
		}
		msg := ""
		if err != nil {
			msg = err.Error()
			failed = append(failed, fmt.Errorf("%s %s: %w", op, s.name, err))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.name, op, outcome, snap.Level, msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if applyShow {
		fmt.Fprintln(out)
		if err := printResources(out, d.Framework.List()); err != nil {
			return err
		}
		fmt.Fprintln(out)
		if err := printDomains(out, d.Framework.Domains()); err != nil {
			return err
		}
	}
	return errors.Join(failed...)
}
