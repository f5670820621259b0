package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/config"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/signature"
)

var linkUnsubscribe bool

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Tracking link commands",
}

var linkSignCmd = &cobra.Command{
	Use:   "sign <recipient_id> [target_url]",
	Short: "Print a signed click link, or an unsubscribe link with --unsubscribe",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLinkSign,
}

var linkRewriteCmd = &cobra.Command{
	Use:   "rewrite <recipient_id>",
	Short: "Rewrite the HTML read from stdin for a recipient",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinkRewrite,
}

func init() {
	linkSignCmd.Flags().BoolVar(&linkUnsubscribe, "unsubscribe", false, "Sign an unsubscribe link")

	linkCmd.AddCommand(linkSignCmd, linkRewriteCmd)
	rootCmd.AddCommand(linkCmd)
}

func newRewriter(cfg *config.Config) (*rewrite.Rewriter, error) {
	signer, err := signature.New(cfg.Tracking.Secret)
	if err != nil {
		return nil, err
	}
	return rewrite.New(signer, rewrite.Options{
		BaseURL:         cfg.Tracking.BaseURL,
		ClickPath:       cfg.Tracking.ClickPath,
		UnsubscribePath: cfg.Tracking.UnsubscribePath,
	}), nil
}

func runLinkSign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rw, err := newRewriter(cfg)
	if err != nil {
		return err
	}

	link, err := signLink(rw, args, linkUnsubscribe)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), link)
	return nil
}

func signLink(rw *rewrite.Rewriter, args []string, unsubscribe bool) (string, error) {
	recipientID := args[0]
	if unsubscribe {
		if len(args) > 1 {
			return "", fmt.Errorf("unsubscribe links take no target URL")
		}
		return rw.UnsubscribeURL(recipientID), nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("target URL is required")
	}
	return rw.ClickURL(recipientID, args[1]), nil
}

func runLinkRewrite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rw, err := newRewriter(cfg)
	if err != nil {
		return err
	}

	var body strings.Builder
	if _, err := io.Copy(&body, cmd.InOrStdin()); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), rw.Rewrite(body.String(), args[0], cfg.Tracking.UnsubscribeLabel))
	return nil
}
