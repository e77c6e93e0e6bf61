package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/socpm/pmres/internal/daemon"
	"github.com/socpm/pmres/internal/infra/sqlite"
)

func init() {
	journalCmd.Flags().StringVar(&journalResource, "resource", "", "Only show transitions of this resource")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 0, "Number of entries (default: journal.keep)")
	journalCmd.Flags().BoolVar(&journalRollbacks, "rollbacks", false, "Show voltage rollbacks instead of transitions")
	rootCmd.AddCommand(journalCmd)
}

var (
	journalResource  string
	journalLimit     int
	journalRollbacks bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded resource transitions, newest first",
	RunE:  runJournal,
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.Journal.Dir)
	if err != nil {
		return err
	}
	defer db.Close()

	limit := journalLimit
	if limit <= 0 {
		limit = cfg.Journal.Keep
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if journalRollbacks {
		rb, err := db.Rollbacks(limit)
		if err != nil {
			return err
		}
		if len(rb) == 0 {
			fmt.Fprintln(out, "No voltage rollbacks recorded.")
			return nil
		}
		fmt.Fprintln(w, "TIME\tVDD\tRESTORED")
		for _, r := range rb {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.At.Format("2006-01-02 15:04:05"), r.VDD, r.Level)
		}
		return w.Flush()
	}

	ts, err := db.Transitions(journalResource, limit)
	if err != nil {
		return err
	}
	if len(ts) == 0 {
		fmt.Fprintln(out, "No transitions recorded.")
		return nil
	}
	fmt.Fprintln(w, "TIME\tRESOURCE\tOP\tCLIENT\tREQUESTED\tFROM\tTO\tOUTCOME")
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.At.Format("2006-01-02 15:04:05"), t.Resource, t.Op, t.Client,
			t.Requested, t.From, t.To, t.Outcome)
	}
	return w.Flush()
}
