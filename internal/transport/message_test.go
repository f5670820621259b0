package transport

import (
	"net/mail"
	"strings"
	"testing"
	"time"
)

func TestBuildMultipart(t *testing.T) {
	msg := &Message{
		From:    FormatAddress("Acme News", "news@acme.example"),
		To:      "ann@example.com",
		ReplyTo: "support@acme.example",
		Subject: "Hello",
		HTML:    "<div>Hi</div>",
		Text:    "Hi\nthere",
		Headers: map[string]string{
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
			"List-Unsubscribe":      "<https://gw.example.com/t/u?r=1>",
		},
	}

	data := string(build(msg, "<id@acme.example>", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))

	parsed, err := mail.ReadMessage(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	h := parsed.Header
	checks := map[string]string{
		"To":                    "ann@example.com",
		"Reply-To":              "support@acme.example",
		"Subject":               "Hello",
		"Message-ID":            "<id@acme.example>",
		"List-Unsubscribe":      "<https://gw.example.com/t/u?r=1>",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		"MIME-Version":          "1.0",
	}
	for name, want := range checks {
		if got := h.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	from, err := h.AddressList("From")
	if err != nil || len(from) != 1 {
		t.Fatalf("From header unparsable: %v", err)
	}
	if from[0].Name != "Acme News" || from[0].Address != "news@acme.example" {
		t.Errorf("From = %+v", from[0])
	}

	if !strings.HasPrefix(h.Get("Content-Type"), "multipart/alternative; boundary=") {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if !strings.Contains(data, "Hi\r\nthere") {
		t.Error("text part does not use CRLF line endings")
	}
	if !strings.Contains(data, "Content-Type: text/html; charset=utf-8\r\n\r\n<div>Hi</div>") {
		t.Error("html part missing")
	}
	if strings.Index(data, "List-Unsubscribe:") > strings.Index(data, "List-Unsubscribe-Post:") {
		t.Error("custom headers are not sorted")
	}
}

func TestBuildPlainOnly(t *testing.T) {
	data := string(build(&Message{From: "a@x.example", To: "b@y.example", Text: "body"}, "<m@x.example>", time.Now()))

	if !strings.Contains(data, "Content-Type: text/plain; charset=utf-8\r\n\r\nbody") {
		t.Errorf("unexpected plain message:\n%s", data)
	}
	if strings.Contains(data, "Reply-To") {
		t.Error("empty Reply-To was written")
	}
}

func TestBuildEncodesSubject(t *testing.T) {
	data := build(&Message{From: "a@x.example", To: "b@y.example", Subject: "Привет"}, "<m@x.example>", time.Now())

	parsed, err := mail.ReadMessage(strings.NewReader(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	raw := parsed.Header.Get("Subject")
	if !strings.HasPrefix(raw, "=?utf-8?q?") {
		t.Errorf("Subject not encoded: %q", raw)
	}
}

func TestBuildStripsHeaderInjection(t *testing.T) {
	msg := &Message{
		From:    "a@x.example",
		To:      "b@y.example",
		Subject: "Hi\r\nBcc: victim@example.com",
		Text:    "body",
	}
	data := string(build(msg, "<m@x.example>", time.Now()))

	if strings.Contains(data, "\r\nBcc:") {
		t.Errorf("header injection not prevented:\n%s", data)
	}
}

func TestBuildGeneratesMessageID(t *testing.T) {
	_, id1 := Build(&Message{From: "News <news@acme.example>", To: "b@y.example"})
	_, id2 := Build(&Message{From: "news@acme.example", To: "b@y.example"})

	if id1 == id2 {
		t.Error("Message-IDs are not unique")
	}
	if !strings.HasSuffix(id1, "@acme.example>") || !strings.HasPrefix(id1, "<") {
		t.Errorf("Message-ID = %q", id1)
	}
}

func TestAddressHelpers(t *testing.T) {
	if got := FormatAddress("", "a@x.example"); got != "a@x.example" {
		t.Errorf("FormatAddress without name = %q", got)
	}
	if got := EnvelopeAddress("Acme <a@x.example>"); got != "a@x.example" {
		t.Errorf("EnvelopeAddress = %q", got)
	}
	if got := EnvelopeAddress("  plain@x.example "); got != "plain@x.example" {
		t.Errorf("EnvelopeAddress bare = %q", got)
	}

	tests := []struct {
		in, want string
	}{
		{"a@Example.COM", "example.com"},
		{"Name <a@b.example>", "b.example"},
		{"no-at-sign", "localhost"},
		{"trailing@", "localhost"},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.in); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
