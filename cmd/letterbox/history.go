package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/letterbox/internal/archive"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Newsletter archive commands",
}

var historyListCmd = &cobra.Command{
	Use:   "list [term]",
	Short: "List archived newsletters, optionally filtered by subject or preview",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryList,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics of sent newsletters",
	RunE:  runHistoryStats,
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyStatsCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	term := ""
	if len(args) > 0 {
		term = args[0]
	}

	records, err := s.Archive.Search(ctx, term)
	if err != nil {
		return fmt.Errorf("failed to list newsletters: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No newsletters found")
		return nil
	}

	printRecords(os.Stdout, records)
	return nil
}

func printRecords(out io.Writer, records []*archive.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tSTATUS\tRECIPIENTS\tOPEN\tCLICK\tSUBJECT")
	fmt.Fprintln(w, "--\t----\t------\t----------\t----\t-----\t-------")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.1f%%\t%.1f%%\t%s\n",
			rec.ID, rec.SentDate, rec.Status, rec.Recipients, rec.OpenRate, rec.ClickRate, rec.Subject)
	}
	w.Flush()
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Archive.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}

	fmt.Println("Newsletter Statistics")
	fmt.Println("=====================")
	fmt.Printf("Sent:             %d\n", stats.TotalSent)
	fmt.Printf("Total recipients: %d\n", stats.TotalRecipients)
	fmt.Printf("Avg open rate:    %.1f%%\n", stats.AvgOpenRate)
	fmt.Printf("Avg click rate:   %.1f%%\n", stats.AvgClickRate)
	return nil
}
