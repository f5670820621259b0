package main

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/clicktrail/internal/auth"
	"github.com/foxzi/clicktrail/internal/config"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/signature"
)

func TestGenerateRandomString(t *testing.T) {
	for _, length := range []int{8, 32, 64} {
		if got := generateRandomString(length); len(got) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(got))
		}
	}

	if generateRandomString(32) == generateRandomString(32) {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestGenerateConfigLoads(t *testing.T) {
	hash, err := auth.HashToken("token")
	if err != nil {
		t.Fatal(err)
	}

	for _, mode := range []string{config.ModeSMTP, config.ModeSandbox} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			content := generateConfig(initOptions{
				BaseURL:   "https://t.example.com",
				Secret:    generateRandomString(64),
				OwnerID:   "owner-1",
				TokenHash: hash,
				DataDir:   dir,
				Mode:      mode,
				SMTPHost:  "smtp.example.com",
			})

			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("generated config does not load: %v\n%s", err, content)
			}
			if cfg.Mail.Mode != mode {
				t.Errorf("Mail.Mode = %q, want %q", cfg.Mail.Mode, mode)
			}
			if len(cfg.API.Tokens) != 1 || cfg.API.Tokens[0].OwnerID != "owner-1" {
				t.Errorf("Tokens = %+v", cfg.API.Tokens)
			}
			if err := bcrypt.CompareHashAndPassword([]byte(cfg.API.Tokens[0].TokenHash), []byte("token")); err != nil {
				t.Errorf("token hash does not survive the round trip: %v", err)
			}
			if cfg.Mail.Sandbox.Path != filepath.Join(dir, "sandbox.db") {
				t.Errorf("Sandbox.Path = %q", cfg.Mail.Sandbox.Path)
			}
		})
	}
}

func testRewriter(t *testing.T) (*rewrite.Rewriter, *signature.Signer) {
	t.Helper()
	signer, err := signature.New(strings.Repeat("x", 32))
	if err != nil {
		t.Fatal(err)
	}
	return rewrite.New(signer, rewrite.Options{
		BaseURL:         "https://t.example.com",
		ClickPath:       "/t/c",
		UnsubscribePath: "/t/u",
	}), signer
}

func TestSignLink(t *testing.T) {
	rw, signer := testRewriter(t)

	link, err := signLink(rw, []string{"R1", "https://example.com/a"}, false)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/t/c" {
		t.Errorf("path = %q", u.Path)
	}
	target, err := signature.Decode(u.Query().Get("u"))
	if err != nil || target != "https://example.com/a" {
		t.Errorf("target = %q, err = %v", target, err)
	}
	if !signer.Verify("R1", target, u.Query().Get("s")) {
		t.Error("signature does not verify")
	}

	link, err = signLink(rw, []string{"R1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(link, "https://t.example.com/t/u?") {
		t.Errorf("unsubscribe link = %q", link)
	}

	if _, err := signLink(rw, []string{"R1"}, false); err == nil {
		t.Error("expected error without target URL")
	}
	if _, err := signLink(rw, []string{"R1", "https://x"}, true); err == nil {
		t.Error("expected error for unsubscribe link with target")
	}
}

func TestTokenHashFromStdin(t *testing.T) {
	var out bytes.Buffer
	tokenHashCmd.SetIn(strings.NewReader("s3cret\n"))
	tokenHashCmd.SetOut(&out)
	defer tokenHashCmd.SetIn(nil)
	defer tokenHashCmd.SetOut(nil)

	if err := runTokenHash(tokenHashCmd, nil); err != nil {
		t.Fatal(err)
	}

	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match token: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 10); got != "aaaaaaa..." {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncateID("0123456789"); got != "01234567" {
		t.Errorf("truncateID() = %q", got)
	}
}

func TestDKIMConfigSnippet(t *testing.T) {
	want := config.DKIMConfig{Enabled: true, Domain: "acme.example", Selector: "news", KeyFile: "/etc/clicktrail/acme.key"}

	snippet, err := dkimConfigSnippet(want)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(snippet, "mail:\n    dkim:\n") {
		t.Errorf("snippet is not a mail.dkim section:\n%s", snippet)
	}

	var cfg config.Config
	if err := yaml.Unmarshal([]byte(snippet), &cfg); err != nil {
		t.Fatalf("snippet does not parse: %v", err)
	}
	if cfg.Mail.DKIM != want {
		t.Errorf("parsed DKIM = %+v, want %+v", cfg.Mail.DKIM, want)
	}
}
