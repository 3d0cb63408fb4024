package admin

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/feeward/feeward/distributor/pkg/statstore"
)

// InitStats writes a zero distribution state to path. An existing file is
// left untouched.
func InitStats(log *slog.Logger, path string) error {
	store, err := statstore.New(path)
	if err != nil {
		return err
	}
	created, err := store.Init()
	if err != nil {
		return fmt.Errorf("failed to initialize stat file: %w", err)
	}
	if !created {
		log.Info("stat file already exists, leaving it unchanged", "path", path)
		return nil
	}
	log.Info("stat file initialized", "path", path)
	return nil
}

// ShowStats prints every bucket of the stat file at path.
func ShowStats(w io.Writer, path string) error {
	store, err := statstore.New(path)
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return err
	}
	return writeBuckets(w, state)
}

func writeBuckets(w io.Writer, state statstore.DistributionState) error {
	buckets := state.Buckets()
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tAMOUNT")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, buckets[name])
	}
	return tw.Flush()
}
