package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/nailwatch/internal/history"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		rangeName string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print detection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := history.ParseRange(rangeName)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			log := history.Open(filepath.Join(cfg.DataDir, history.FileName), logger)
			defer log.Close()

			stats := history.Compute(log.Load(), rng, time.Now())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&rangeName, "range", string(history.Range30D), "time range: 7D, 30D, 90D or All")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := ensureDataDir(cfg.DataDir); err != nil {
				return err
			}

			log := history.Open(filepath.Join(cfg.DataDir, history.FileName), logger)
			n := len(log.Load())
			log.Clear()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := log.Flush(ctx); err != nil {
				log.Close()
				return fmt.Errorf("clear history: %w", err)
			}
			if err := log.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d detections.\n", n)
			return nil
		},
	}
}

func printStats(w io.Writer, s history.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\n\n", s.Range.FullName())
	fmt.Fprintf(tw, "Total\t%d\n", s.Total)
	fmt.Fprintf(tw, "Daily average\t%.1f\n", s.DailyAverage)
	if s.MostActiveDay != nil {
		fmt.Fprintf(tw, "Most active day\t%s (%d)\n", s.MostActiveDay.Key, s.MostActiveDay.Count)
	} else {
		fmt.Fprintf(tw, "Most active day\t-\n")
	}
	fmt.Fprintf(tw, "This week vs last\t%d vs %d (%s)\n", s.RecentWeek, s.PreviousWeek, history.FormatTrend(s.TrendChange))

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Weekday\tCount")
	for _, g := range s.Weekdays {
		fmt.Fprintf(tw, "%s\t%d\n", g.Key, g.Count)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Hour\tCount")
	for _, g := range s.Hours {
		if g.Count > 0 {
			fmt.Fprintf(tw, "%s\t%d\n", g.Key, g.Count)
		}
	}

	return tw.Flush()
}
