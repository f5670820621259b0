// Package rewrite routes the links of an outgoing HTML body through the
// tracking gateway and appends the unsubscribe footer.
package rewrite

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/foxzi/clicktrail/internal/signature"
)

// UnsubscribeMarker is the payload signed into unsubscribe links in place of
// a target URL.
const UnsubscribeMarker = "UNSUB"

// DefaultUnsubscribeLabel is used by callers that do not configure a label.
const DefaultUnsubscribeLabel = "Unsubscribe"

// hrefPattern matches href="..." and href='...'. RE2 has no back-references,
// so each quote style gets its own alternative.
var hrefPattern = regexp.MustCompile(`(?i)href=(?:"([^"\n]+)"|'([^'\n]+)')`)

var closingBodyPattern = regexp.MustCompile(`(?i)</body>`)

// Options configures where rewritten links point to.
type Options struct {
	BaseURL         string // scheme://host[:port] of the gateway
	ClickPath       string
	UnsubscribePath string
}

// Rewriter builds signed tracking links.
type Rewriter struct {
	signer *signature.Signer
	base   string
	click  string
	unsub  string
}

// New creates a rewriter.
func New(signer *signature.Signer, opts Options) *Rewriter {
	return &Rewriter{
		signer: signer,
		base:   strings.TrimRight(opts.BaseURL, "/"),
		click:  opts.ClickPath,
		unsub:  opts.UnsubscribePath,
	}
}

// ClickURL returns the gateway URL that redirects to target.
func (rw *Rewriter) ClickURL(recipientID, target string) string {
	return rw.build(rw.click, recipientID, target)
}

// UnsubscribeURL returns the one-click unsubscribe URL for a recipient.
func (rw *Rewriter) UnsubscribeURL(recipientID string) string {
	return rw.build(rw.unsub, recipientID, UnsubscribeMarker)
}

func (rw *Rewriter) build(path, recipientID, payload string) string {
	q := url.Values{}
	q.Set("r", recipientID)
	q.Set("u", signature.Encode(payload))
	q.Set("s", rw.signer.Sign(recipientID, payload))
	return rw.base + path + "?" + q.Encode()
}

// Rewrite replaces every href target in body with a click-tracking URL for
// recipientID and, when label is not empty, appends an unsubscribe footer
// before the last closing body tag.
func (rw *Rewriter) Rewrite(body, recipientID, label string) string {
	out := hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		groups := hrefPattern.FindStringSubmatch(match)
		quote, target := `"`, groups[1]
		if target == "" {
			quote, target = `'`, groups[2]
		}
		// match[:5] keeps the attribute name as written.
		tracked := rw.ClickURL(recipientID, html.UnescapeString(target))
		return match[:5] + quote + html.EscapeString(tracked) + quote
	})

	if label == "" {
		return out
	}

	footer := fmt.Sprintf(
		`<p style="font-size:12px;color:#6b7280;"><a href="%s" target="_blank" rel="noopener">[%s]</a></p>`,
		html.EscapeString(rw.UnsubscribeURL(recipientID)), html.EscapeString(label),
	)

	locs := closingBodyPattern.FindAllStringIndex(out, -1)
	if len(locs) == 0 {
		return out + footer
	}
	at := locs[len(locs)-1][0]
	return out[:at] + footer + out[at:]
}
