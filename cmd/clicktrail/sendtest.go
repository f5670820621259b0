package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/app"
)

var (
	sendTestOwner   string
	sendTestVerbose bool
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test <email_id>",
	Short: "Send an email to the first active contact of its audience",
	Args:  cobra.ExactArgs(1),
	RunE:  runSendTest,
}

func init() {
	sendTestCmd.Flags().StringVar(&sendTestOwner, "owner", "", "Owner ID the send is performed for (required)")
	sendTestCmd.Flags().BoolVarP(&sendTestVerbose, "verbose", "v", false, "Log to stderr")
	sendTestCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(sendTestCmd)
}

func runSendTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	if sendTestVerbose {
		out = cmd.ErrOrStderr()
	}
	application, err := app.New(cfg, app.NewLogger(cfg.Logging, out))
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Composer().SendTest(context.Background(), sendTestOwner, args[0])
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	fmt.Printf("Status:       %s\n", res.Status)
	fmt.Printf("To:           %s\n", res.To)
	fmt.Printf("Recipient ID: %s\n", res.RecipientID)
	return nil
}
