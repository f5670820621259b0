// Package dnscheck validates DKIM naming and checks the DNS records of the
// sending domain.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrInvalidSelector = errors.New("invalid selector")
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// Check statuses
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if a DKIM selector is a valid DNS label
func ValidateSelector(selector string) error {
	if !selectorRegex.MatchString(selector) {
		return ErrInvalidSelector
	}
	return nil
}

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  string `json:"status"` // ok, warning, error, not_found
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Checker looks up the TXT records relevant to outgoing mail
type Checker struct {
	lookupTXT func(ctx context.Context, name string) ([]string, error)
}

// New creates a checker using the system resolver
func New() *Checker {
	return &Checker{lookupTXT: net.DefaultResolver.LookupTXT}
}

// NewWithLookup creates a checker with a custom TXT lookup
func NewWithLookup(lookup func(ctx context.Context, name string) ([]string, error)) *Checker {
	return &Checker{lookupTXT: lookup}
}

// CheckAll runs the SPF, DKIM and DMARC checks for the sending domain.
// expectedDKIM is the record the configured key publishes; empty skips the
// key comparison.
func (c *Checker) CheckAll(ctx context.Context, domain, selector, expectedDKIM string) []CheckResult {
	return []CheckResult{
		c.CheckSPF(ctx, domain),
		c.CheckDKIM(ctx, domain, selector, expectedDKIM),
		c.CheckDMARC(ctx, domain),
	}
}

// lookup returns the joined TXT records of name, or a filled result when the
// lookup fails.
func (c *Checker) lookup(ctx context.Context, name string, result *CheckResult, missing string) ([]string, bool) {
	records, err := c.lookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = missing
			return nil, false
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return nil, false
	}
	return records, true
}

// CheckSPF checks SPF record for a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF"}
	const missing = "No SPF record found (recommended to add)"

	records, ok := c.lookup(ctx, domain, &result, missing)
	if !ok {
		return result
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all (allows any sender)"
		case strings.Contains(txt, "-all"):
			result.Message = "SPF configured with strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "SPF configured with soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = missing
	return result
}

// CheckDKIM checks the DKIM record of selector and, when expected is set,
// that it publishes the same public key.
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, expected string) CheckResult {
	result := CheckResult{Type: fmt.Sprintf("DKIM (%s._domainkey)", selector)}
	name := fmt.Sprintf("%s._domainkey.%s", selector, domain)

	records, ok := c.lookup(ctx, name, &result, fmt.Sprintf("No DKIM record found for selector '%s'", selector))
	if !ok {
		return result
	}

	// Long keys are split into several strings
	record := strings.Join(records, "")
	result.Value = truncateString(record, 100)

	if !strings.Contains(record, "v=DKIM1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DKIM record"
		return result
	}

	published := tagValue(record, "p")
	if published == "" {
		result.Status = StatusWarning
		result.Message = "DKIM record missing public key (p=)"
		return result
	}

	if expected != "" && published != tagValue(expected, "p") {
		result.Status = StatusError
		result.Message = "Published key does not match the configured private key"
		return result
	}

	result.Status = StatusOK
	result.Message = "DKIM record published"
	return result
}

// CheckDMARC checks DMARC record for a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC"}

	records, ok := c.lookup(ctx, "_dmarc."+domain, &result, "No DMARC record found (recommended to add)")
	if !ok {
		return result
	}

	record := strings.Join(records, "")
	result.Value = record
	if !strings.HasPrefix(record, "v=DMARC1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
		return result
	}

	result.Status = StatusOK
	switch tagValue(record, "p") {
	case "reject":
		result.Message = "DMARC configured with reject policy (strict)"
	case "quarantine":
		result.Message = "DMARC configured with quarantine policy"
	case "none":
		result.Status = StatusWarning
		result.Message = "DMARC configured with none policy (monitoring only)"
	}
	return result
}

// tagValue returns the value of tag in a "k=v; k=v" record.
func tagValue(record, tag string) string {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.TrimSpace(k) == tag {
			return strings.Join(strings.Fields(v), "")
		}
	}
	return ""
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
