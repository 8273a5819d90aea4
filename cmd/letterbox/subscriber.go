package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/letterbox/internal/subscriber"
)

var (
	subscriberName     string
	subscriberPullSave bool
	subscriberPullMax  int
)

var subscriberCmd = &cobra.Command{
	Use:     "subscriber",
	Aliases: []string{"audience"},
	Short:   "Audience management commands",
}

var subscriberAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriberAdd,
}

var subscriberListCmd = &cobra.Command{
	Use:   "list [term]",
	Short: "List subscribers, optionally filtered by email or name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSubscriberList,
}

var subscriberRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriberRemove,
}

var subscriberImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import subscribers from a CSV file with a header row (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriberImport,
}

var subscriberExportCmd = &cobra.Command{
	Use:   "export [file.csv]",
	Short: "Export subscribers as CSV (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSubscriberExport,
}

var subscriberPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "List members of the configured Mailchimp audience",
	RunE:  runSubscriberPull,
}

func init() {
	subscriberAddCmd.Flags().StringVar(&subscriberName, "name", "", "Subscriber name")
	subscriberPullCmd.Flags().BoolVar(&subscriberPullSave, "save", false, "Add pulled members to the local audience")
	subscriberPullCmd.Flags().IntVar(&subscriberPullMax, "limit", 100, "Maximum number of members to fetch")

	subscriberCmd.AddCommand(
		subscriberAddCmd,
		subscriberListCmd,
		subscriberRemoveCmd,
		subscriberImportCmd,
		subscriberExportCmd,
		subscriberPullCmd,
	)
	rootCmd.AddCommand(subscriberCmd)
}

func runSubscriberAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := s.Audience.Add(ctx, args[0], subscriberName)
	if err != nil {
		return err
	}

	fmt.Printf("Subscriber added: #%d %s (%s)\n", sub.ID, sub.Email, sub.Name)
	return nil
}

func runSubscriberList(cmd *cobra.Command, args []string) error {
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

	subs, err := s.Audience.Search(ctx, term)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}
	counts, err := s.Audience.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count subscribers: %w", err)
	}

	printSubscribers(os.Stdout, subs)
	fmt.Printf("\nShowing %d of %d (%d subscribed, %d unsubscribed)\n",
		len(subs), counts.Total, counts.Subscribed, counts.Unsubscribed)
	return nil
}

func printSubscribers(out io.Writer, subs []*subscriber.Subscriber) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tSTATUS\tJOINED")
	fmt.Fprintln(w, "--\t-----\t----\t------\t------")
	for _, sub := range subs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", sub.ID, sub.Email, sub.Name, sub.Status, sub.JoinDate)
	}
	w.Flush()
}

func runSubscriberRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subscriber id %q", args[0])
	}

	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Audience.Remove(ctx, id); err != nil {
		return err
	}

	fmt.Printf("Subscriber #%d removed\n", id)
	return nil
}

func runSubscriberImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open CSV file: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.Audience.ImportCSV(ctx, in)
	if err != nil {
		return err
	}

	fmt.Printf("Rows: %d, imported: %d, skipped: %d\n", result.Total, result.Imported, result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("  %s\n", e)
	}
	return nil
}

func runSubscriberExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var out io.Writer = os.Stdout
	if len(args) > 0 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer f.Close()
		out = f
	}

	return s.Audience.ExportCSV(ctx, out)
}

func runSubscriberPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	members, err := s.Mirror.Pull(ctx, subscriberPullMax)
	if err != nil {
		return fmt.Errorf("failed to pull members: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tSTATUS")
	fmt.Fprintln(w, "-----\t----\t------")
	added := 0
	for _, m := range members {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.EmailAddress, m.FullName, m.Status)

		if subscriberPullSave && m.Status == string(subscriber.StatusSubscribed) {
			_, err := s.Audience.Add(ctx, m.EmailAddress, m.FullName)
			switch {
			case err == nil:
				added++
			case !errors.Is(err, subscriber.ErrDuplicateEmail):
				w.Flush()
				return err
			}
		}
	}
	w.Flush()

	fmt.Printf("\n%d members\n", len(members))
	if subscriberPullSave {
		fmt.Printf("%d added to the local audience\n", added)
	}
	return nil
}
