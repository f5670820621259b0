// Package transport builds RFC 5322 messages and hands them to a mail relay.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a composed email ready for delivery
type Message struct {
	From    string // "Name <addr>" or addr
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Sender delivers a message and returns its Message-ID.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Signer signs raw message bytes, e.g. with DKIM.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Build renders msg as RFC 5322 data with a fresh Message-ID.
func Build(msg *Message) (data []byte, messageID string) {
	messageID = fmt.Sprintf("<%s@%s>", uuid.New().String(), ExtractDomain(msg.From))
	return build(msg, messageID, time.Now()), messageID
}

func build(msg *Message, messageID string, now time.Time) []byte {
	var buf bytes.Buffer

	writeHeader(&buf, "From", msg.From)
	writeHeader(&buf, "To", msg.To)
	if msg.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", msg.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)

	// Custom headers in stable order
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, msg.Headers[k])
	}

	buf.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML == "" {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(crlf(msg.Text))
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	boundary := uuid.New().String()
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	if msg.Text != "" {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(crlf(msg.Text))
		buf.WriteString("\r\n")
	}

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(crlf(msg.HTML))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return buf.Bytes()
}

// writeHeader drops CR and LF from values so callers cannot inject headers.
func writeHeader(buf *bytes.Buffer, name, value string) {
	value = strings.NewReplacer("\r", "", "\n", "").Replace(value)
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// FormatAddress returns "Name <addr>" or just addr when name is empty.
func FormatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

// EnvelopeAddress returns the bare address of a header value.
func EnvelopeAddress(value string) string {
	if a, err := mail.ParseAddress(value); err == nil {
		return a.Address
	}
	return strings.TrimSpace(value)
}

// ExtractDomain extracts the domain part of an address
func ExtractDomain(value string) string {
	addr := EnvelopeAddress(value)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.ToLower(addr[i+1:])
	}
	return "localhost"
}
