package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/feeward/feeward/distributor/pkg/journal"
)

// ShowCycles prints the most recent journaled cycles, newest first.
func ShowCycles(ctx context.Context, log *slog.Logger, w io.Writer, connStr string, limit int) error {
	j, err := journal.Open(ctx, journal.Config{Logger: log, ConnStr: connStr, MaxConns: 1})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	cycles, err := j.RecentCycles(ctx, limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No cycles recorded")
		return nil
	}
	return writeCycles(w, cycles)
}

func writeCycles(w io.Writer, cycles []journal.CycleRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tWITHDRAWN\tARMED\tDISPATCHES\tCONFIRMED\tERRORS")
	for _, c := range cycles {
		confirmed := 0
		for _, d := range c.Dispatches {
			if d.Confirmed {
				confirmed++
			}
		}
		errs := stageErrorSummary(c)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%d\t%s\n",
			c.StartedAt.UTC().Format(time.RFC3339),
			c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond),
			c.Withdrawn,
			c.Armed,
			len(c.Dispatches),
			confirmed,
			errs,
		)
	}
	return tw.Flush()
}

func stageErrorSummary(c journal.CycleRecord) string {
	stages := make([]string, 0, len(c.StageErrors)+1)
	if c.Panicked {
		stages = append(stages, "panic")
	}
	for stage := range c.StageErrors {
		stages = append(stages, stage)
	}
	if len(stages) == 0 {
		return "-"
	}
	sort.Strings(stages[boolToInt(c.Panicked):])
	return strings.Join(stages, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
