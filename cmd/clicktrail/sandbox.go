package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/sandbox"
)

var (
	sandboxListTo     string
	sandboxListLimit  int
	sandboxShowFormat string
	sandboxClearDays  int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect messages captured in sandbox mode",
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete captured messages",
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sandbox statistics",
	RunE:  runSandboxStats,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxListTo, "to", "", "Filter by recipient address")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")

	sandboxShowCmd.Flags().StringVar(&sandboxShowFormat, "format", "text", "Output format (text, raw)")

	sandboxClearCmd.Flags().IntVar(&sandboxClearDays, "older-than", 0, "Clear messages older than N days")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandboxStorage() (*sandbox.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storage, err := sandbox.Open(cfg.Mail.Sandbox.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox storage: %w", err)
	}
	return storage, nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	messages, err := storage.List(context.Background(), sandbox.ListFilter{
		To:    sandboxListTo,
		Limit: sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tTO\tSUBJECT\tCAPTURED")
	fmt.Fprintln(w, "--\t----\t--\t-------\t--------")

	for _, msg := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(msg.ID),
			msg.From,
			truncate(msg.To, 30),
			truncate(msg.Subject, 30),
			msg.CapturedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d messages\n", len(messages))
	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	msg, err := storage.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	if sandboxShowFormat == "raw" {
		fmt.Println(string(msg.Data))
		return nil
	}

	fmt.Printf("Message: %s\n\n", msg.ID)
	fmt.Printf("Message-ID: %s\n", msg.MessageID)
	fmt.Printf("Domain:     %s\n", msg.Domain)
	fmt.Printf("From:       %s\n", msg.From)
	fmt.Printf("To:         %s\n", msg.To)
	fmt.Printf("Subject:    %s\n", msg.Subject)
	fmt.Printf("Captured:   %s\n", msg.CapturedAt.Format(time.RFC3339))
	for name, value := range msg.Headers {
		fmt.Printf("%s: %s\n", name, value)
	}

	if len(msg.Data) > 0 {
		fmt.Println("\nMessage Data:")
		fmt.Println("---")
		fmt.Println(truncate(string(msg.Data), 1000))
		fmt.Println("---")
	}
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	olderThan := time.Duration(sandboxClearDays) * 24 * time.Hour
	n, err := storage.Clear(context.Background(), olderThan)
	if err != nil {
		return fmt.Errorf("failed to clear sandbox: %w", err)
	}

	fmt.Printf("Cleared %d messages\n", n)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Total messages: %d\n", stats.Total)
	fmt.Printf("Total size:     %d bytes\n", stats.TotalSize)
	if !stats.OldestAt.IsZero() {
		fmt.Printf("Oldest:         %s\n", stats.OldestAt.Format(time.RFC3339))
		fmt.Printf("Newest:         %s\n", stats.NewestAt.Format(time.RFC3339))
	}
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
