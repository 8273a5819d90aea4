package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/letterbox/internal/delivery"
)

var (
	outboxListStatus     string
	outboxListLimit      int
	outboxListNewsletter int64
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Delivery queue commands",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox messages",
	RunE:  runOutboxList,
}

var outboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show message details",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxShow,
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show outbox statistics",
	RunE:  runOutboxStats,
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry <message_id>",
	Short: "Retry a failed message",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxRetry,
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxListStatus, "status", "", "Filter by status (pending, sending, delivered, failed, deferred)")
	outboxListCmd.Flags().IntVar(&outboxListLimit, "limit", 50, "Maximum number of messages to show")
	outboxListCmd.Flags().Int64Var(&outboxListNewsletter, "newsletter", 0, "Filter by archived newsletter ID")

	outboxCmd.AddCommand(outboxListCmd, outboxShowCmd, outboxStatsCmd, outboxRetryCmd)
	rootCmd.AddCommand(outboxCmd)
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	messages, err := s.Outbox.List(ctx, delivery.ListFilter{
		Status:       delivery.MessageStatus(outboxListStatus),
		NewsletterID: outboxListNewsletter,
		Limit:        outboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("Outbox is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNEWSLETTER\tSTATUS\tTO\tCREATED\tRETRIES")
	fmt.Fprintln(w, "--\t----------\t------\t--\t-------\t-------")

	for _, msg := range messages {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\n",
			truncateID(msg.ID),
			msg.NewsletterID,
			msg.Status,
			msg.To,
			msg.CreatedAt.Format("2006-01-02 15:04"),
			msg.RetryCount,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d messages\n", len(messages))
	return nil
}

func runOutboxShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id := args[0]
	msg, err := s.Outbox.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", id)
	}

	fmt.Printf("Message: %s\n\n", msg.ID)
	fmt.Printf("Newsletter:  %d\n", msg.NewsletterID)
	fmt.Printf("Status:      %s\n", msg.Status)
	fmt.Printf("From:        %s\n", msg.From)
	fmt.Printf("To:          %s\n", msg.To)
	fmt.Printf("Created:     %s\n", msg.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", msg.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Retry Count: %d\n", msg.RetryCount)

	if msg.Status == delivery.StatusDeferred {
		fmt.Printf("Next Retry:  %s\n", msg.NextRetryAt.Format(time.RFC3339))
	}
	if msg.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", msg.LastError)
	}

	if len(msg.Data) > 0 {
		fmt.Println("\nMessage Preview (first 500 bytes):")
		fmt.Println("---")
		preview := string(msg.Data)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Println(preview)
	}
	return nil
}

func runOutboxStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Outbox.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Outbox Statistics")
	fmt.Println("=================")
	fmt.Printf("Pending:   %d\n", stats.Pending)
	fmt.Printf("Sending:   %d\n", stats.Sending)
	fmt.Printf("Deferred:  %d\n", stats.Deferred)
	fmt.Printf("Delivered: %d\n", stats.Delivered)
	fmt.Printf("Failed:    %d\n", stats.Failed)
	fmt.Printf("Total:     %d\n", stats.Total)
	return nil
}

func runOutboxRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Outbox.Retry(ctx, args[0]); err != nil {
		return err
	}

	fmt.Printf("Message %s moved to pending queue\n", args[0])
	return nil
}

// truncateID shortens a message ID for table output
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
