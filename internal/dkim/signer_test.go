package dkim

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

const testMessage = "From: News <news@acme.example>\r\n" +
	"To: ann@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Date: Mon, 1 Jan 2024 12:00:00 +0000\r\n" +
	"Message-ID: <1@acme.example>\r\n" +
	"List-Unsubscribe: <https://gw.acme.example/t/u?r=1&s=2&u=VU5TVUI>\r\n" +
	"List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi there\r\n"

func verify(t *testing.T, k *Key, message []byte) []*dkim.Verification {
	t.Helper()
	record := k.Record()
	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(message), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != record.Name {
				return nil, fmt.Errorf("unexpected lookup %s", domain)
			}
			return []string{record.Value}, nil
		},
	})
	if err != nil {
		t.Fatalf("VerifyWithOptions() error = %v", err)
	}
	return verifications
}

func TestSignVerifies(t *testing.T) {
	kp := testKey(t)
	signer := kp.Signer()

	signed, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Fatal("DKIM-Signature header not prepended")
	}

	header := strings.ToLower(string(signed[:bytes.Index(signed, []byte("\r\nFrom:"))]))
	for _, want := range []string{"d=acme.example", "s=clicktrail", "list-unsubscribe", "list-unsubscribe-post"} {
		if !strings.Contains(header, want) {
			t.Errorf("signature header missing %q", want)
		}
	}

	verifications := verify(t, kp, signed)
	if len(verifications) != 1 {
		t.Fatalf("got %d verifications, want 1", len(verifications))
	}
	if verifications[0].Err != nil {
		t.Errorf("verification failed: %v", verifications[0].Err)
	}
}

func TestSignDetectsTampering(t *testing.T) {
	kp := testKey(t)
	signer := kp.Signer()

	signed, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatal(err)
	}

	tampered := bytes.Replace(signed, []byte("r=1&s=2"), []byte("r=9&s=2"), 1)
	verifications := verify(t, kp, tampered)
	if len(verifications) != 1 || verifications[0].Err == nil {
		t.Error("modified List-Unsubscribe header still verifies")
	}
}

func TestSignerFromConfig(t *testing.T) {
	cfg := writeKey(t, t.TempDir())

	k, err := Load(cfg)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	signer := k.Signer()
	if signer.Domain() != "acme.example" || signer.Selector() != "clicktrail" {
		t.Errorf("signer = %s/%s", signer.Domain(), signer.Selector())
	}

	signed, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatal(err)
	}
	if v := verify(t, k, signed); len(v) != 1 || v[0].Err != nil {
		t.Error("message signed with the loaded key does not verify")
	}
}
