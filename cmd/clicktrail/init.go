package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/clicktrail/internal/auth"
)

// initOptions holds the values written into a generated config
type initOptions struct {
	BaseURL     string
	Secret      string
	OwnerID     string
	TokenHash   string
	DataDir     string
	Mode        string
	SMTPHost    string
	DefaultFrom string
}

var (
	initOpts   initOptions
	initOutput string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a clicktrail configuration file",
	Long: `Create a clicktrail configuration file with a fresh signing secret and
owner API token.

Examples:
  # Interactive mode - prompts for missing values
  clicktrail init

  # Quick setup for testing
  clicktrail init --base-url http://localhost:8090 --mode sandbox -o test.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initOpts.BaseURL, "base-url", "", "Public base URL of the gateway (e.g., https://t.example.com)")
	initCmd.Flags().StringVar(&initOpts.OwnerID, "owner", "", "Owner ID for the generated API token")
	initCmd.Flags().StringVar(&initOpts.DataDir, "data-dir", "/var/lib/clicktrail", "Data directory")
	initCmd.Flags().StringVar(&initOpts.Mode, "mode", "smtp", "Mail mode: smtp, sandbox")
	initCmd.Flags().StringVar(&initOpts.SMTPHost, "smtp-host", "", "SMTP relay host (smtp mode)")
	initCmd.Flags().StringVar(&initOpts.DefaultFrom, "from", "", "Default From address")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	opts := initOpts

	if opts.BaseURL == "" {
		opts.BaseURL = prompt(reader, "Public base URL of the gateway", "http://localhost:8090")
	}
	if opts.OwnerID == "" {
		opts.OwnerID = prompt(reader, "Owner ID for the API token", "owner")
	}
	if opts.Mode == "smtp" && opts.SMTPHost == "" {
		opts.SMTPHost = prompt(reader, "SMTP relay host", "localhost")
	}

	token := generateRandomString(40)
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	opts.TokenHash = hash
	opts.Secret = generateRandomString(64)

	if err := os.WriteFile(initOutput, []byte(generateConfig(opts)), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("\nConfiguration written to %s\n\n", initOutput)
	fmt.Printf("API token for owner %q (shown once):\n  %s\n\n", opts.OwnerID, token)
	fmt.Println("Next steps:")
	fmt.Printf("  clicktrail config validate -c %s\n", initOutput)
	fmt.Printf("  clicktrail serve -c %s\n", initOutput)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(opts initOptions) string {
	from := opts.DefaultFrom
	if from == "" {
		from = "noreply@example.com"
	}

	return fmt.Sprintf(`# Clicktrail configuration
# Generated by: clicktrail init

server:
  listen_addr: ":8090"
  # Only behind a reverse proxy that sets X-Forwarded-For
  trust_proxy: false
  tls:
    enabled: false
    # cert_file: "/etc/clicktrail/cert.pem"
    # key_file: "/etc/clicktrail/key.pem"

database:
  path: "%s/clicktrail.db"

tracking:
  base_url: "%s"
  secret: "%s"
  click_path: "/t/c"
  unsubscribe_path: "/t/u"
  unsubscribe_label: "Unsubscribe"

api:
  tokens:
    - owner_id: "%s"
      token_hash: "%s"

mail:
  default_from: "%s"
  mode: "%s"
  smtp:
    host: "%s"
    port: 587
    tls: "starttls"
    timeout: 30s
  dkim:
    enabled: false
    selector: "clicktrail"
    # domain: "example.com"
    # key_file: "%s/dkim/example.com.key"
  sandbox:
    path: "%s/sandbox.db"

metrics:
  enabled: false
  listen_addr: "127.0.0.1:9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"

logging:
  level: "info"
  format: "json"
`,
		opts.DataDir,
		opts.BaseURL,
		opts.Secret,
		opts.OwnerID,
		opts.TokenHash,
		from,
		opts.Mode,
		opts.SMTPHost,
		opts.DataDir,
		opts.DataDir,
	)
}
