package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/clicktrail/internal/config"
	"github.com/foxzi/clicktrail/internal/dkim"
	"github.com/foxzi/clicktrail/internal/dnscheck"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a DKIM key and print its DNS record and mail.dkim config",
	Long:  `Generate a new RSA 2048-bit DKIM key, write it to --key and print the DNS record to publish and the mail.dkim section to add to the config.`,
	RunE:  runDKIMGenerate,
}

var dkimCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the SPF, DKIM and DMARC records of the configured sending domain",
	RunE:  runDKIMCheck,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DNS record of the configured DKIM key",
	RunE:  runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Sending domain (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "clicktrail", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Key file to create (default <domain>.key)")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd, dkimCheckCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	keyFile := dkimKeyFile
	if keyFile == "" {
		keyFile = dkimDomain + ".key"
	}
	if abs, err := filepath.Abs(keyFile); err == nil {
		keyFile = abs
	}
	dkimCfg := config.DKIMConfig{Enabled: true, Domain: dkimDomain, Selector: dkimSelector, KeyFile: keyFile}
	if err := dnscheck.ValidateDomain(dkimCfg.Domain); err != nil {
		return err
	}
	if err := dnscheck.ValidateSelector(dkimCfg.Selector); err != nil {
		return err
	}

	key, err := dkim.Generate(dkimCfg)
	if err != nil {
		return err
	}

	fmt.Printf("DKIM key written to %s\n\n", keyFile)
	printDKIMRecord(key.Record())

	snippet, err := dkimConfigSnippet(dkimCfg)
	if err != nil {
		return err
	}
	fmt.Printf("\nConfig:\n%s", snippet)
	return nil
}

// dkimConfigSnippet renders cfg as the mail.dkim section of the config file.
func dkimConfigSnippet(cfg config.DKIMConfig) (string, error) {
	out, err := yaml.Marshal(map[string]any{
		"mail": map[string]any{"dkim": cfg},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}

// loadDKIMKey loads the key named by the mail.dkim section.
func loadDKIMKey() (*dkim.Key, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Mail.DKIM.Enabled {
		return nil, fmt.Errorf("DKIM is not enabled in %s", cfgFile)
	}
	key, err := dkim.Load(cfg.Mail.DKIM)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return key, nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	key, err := loadDKIMKey()
	if err != nil {
		return err
	}
	printDKIMRecord(key.Record())
	return nil
}

func printDKIMRecord(r dkim.Record) {
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", r.Name)
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n\n", r.Value)
	fmt.Printf("Zone file:\n  %s\n", r.ZoneLine())
}

func runDKIMCheck(cmd *cobra.Command, args []string) error {
	key, err := loadDKIMKey()
	if err != nil {
		return err
	}
	record := key.Record()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	results := dnscheck.New().CheckAll(ctx, key.Domain, key.Selector, record.Value)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
	failed := false
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Status, r.Message)
		if r.Status == dnscheck.StatusError || (r.Status == dnscheck.StatusNotFound && strings.HasPrefix(r.Type, "DKIM")) {
			failed = true
		}
	}
	w.Flush()

	if failed {
		fmt.Println()
		printDKIMRecord(record)
		return fmt.Errorf("DNS check failed for %s", key.Domain)
	}
	return nil
}
