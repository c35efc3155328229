// Package parser extracts structured payment transactions from bank
// confirmation SMS text. Parsing is a pure function: no I/O, no state,
// safe to call repeatedly on the same input. The same code path serves
// live ingestion and the manual test endpoints.
package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

// ParseFailure reports that a message is not a recognized bank
// confirmation. It is a value, not an exception: callers drop the
// message and move on.
type ParseFailure struct {
	Reason string
}

func (e *ParseFailure) Error() string {
	return "parse failure: " + e.Reason
}

// The bank's confirmation template, e.g.:
//
//	Confirmed KES. 7,940.00 to JOHN DOE A/C Ref.Number 11111 Via MPESA
//	Ref UAGH013ERL6 by Jane Doe Phone 254712345678 on 10-01-2026 at 10:39.Thank you.
//
// Templates are tried strictest first; each successive one relaxes
// whitespace, punctuation and anchor strictness. Name groups are
// non-greedy so they stop at the following anchor keyword.
//
// Group order in every template: currency, amount, recipient, account
// reference, method, external reference, sender name, sender phone,
// date, time.
var templates = []*regexp.Regexp{
	// Strict: the template exactly as the bank sends it.
	regexp.MustCompile(`^Confirmed ([A-Z]{3})\.? ?([0-9][0-9,]*(?:\.[0-9]+)?) to (.+?) A/C Ref\.? ?Number (\S+) Via (\S+) Ref (\S+) by (.+?) Phone (\d{6,15}) on (\d{2}-\d{2}-\d{4}) at (\d{1,2}:\d{2})`),
	// Relaxed: case-insensitive, stray periods and spacing variants
	// around the Ref.Number and Via anchors.
	regexp.MustCompile(`(?i)confirmed ([A-Za-z]{3})[. ]*([0-9][0-9,]*(?:\.[0-9]+)?) ?to (.+?) ?a/?c[. ]*ref[. ]*n(?:umber|o)[. ]*(\S+?)[. ]+via (\S+?)[. ]+ref[. ]+(\S+?) by (.+?) ?phone[. ]*\+?(\d{6,15}) on (\d{1,2}-\d{1,2}-\d{4}) at (\d{1,2}:\d{2})`),
	// Loose: anchors only, anything in between. Last resort before
	// declaring the message unrecognized.
	regexp.MustCompile(`(?i)confirmed\W*([A-Za-z]{3})\W*([0-9][0-9,]*(?:\.[0-9]+)?).*?to (.+?) a/?c.*?ref.*?n(?:umber|o)\W*(\S+?)\W+via (\S+?)\W+ref\W+(\S+?) by (.+?) phone\W*\+?(\d{6,15}).*?(\d{1,2}-\d{1,2}-\d{4}).*?(\d{1,2}:\d{2})`),
}

// signatureAnchors are cheap literal markers checked before running the
// template cascade. Every genuine confirmation contains all of them, so
// unrelated chatter is rejected without regex backtracking. This also
// keeps the trust decision independent of the sender field.
var signatureAnchors = []string{"confirmed", "ref", "via", "phone"}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize collapses all whitespace runs (including newlines from
// multi-segment messages) to single spaces and trims the ends.
func normalize(raw string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
}

// Matches reports whether the text carries the bank template's
// signature anchors. A false return means Parse would fail too.
func Matches(raw string) bool {
	text := strings.ToLower(normalize(raw))
	for _, anchor := range signatureAnchors {
		if !strings.Contains(text, anchor) {
			return false
		}
	}
	return true
}

// Parse extracts a transaction from a raw confirmation message. The
// returned transaction has every message-derived field populated; the
// caller stamps ID and CreatedAt at ingestion time so Parse itself
// stays deterministic. On no match the error is a *ParseFailure.
func Parse(raw, sender string) (*domain.Transaction, error) {
	text := normalize(raw)
	if text == "" {
		return nil, &ParseFailure{Reason: "empty message"}
	}
	if !Matches(text) {
		return nil, &ParseFailure{Reason: "missing template anchors"}
	}

	for _, re := range templates {
		groups := re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}

		amount, err := decimal.NewFromString(strings.ReplaceAll(groups[2], ",", ""))
		if err != nil {
			// Numeric garbage in the amount slot means this template
			// did not really match; try the next one.
			continue
		}

		return &domain.Transaction{
			Amount:      amount,
			Currency:    strings.ToUpper(groups[1]),
			Recipient:   strings.TrimSpace(groups[3]),
			AccountRef:  strings.TrimSuffix(groups[4], "."),
			Method:      strings.ToUpper(strings.TrimSuffix(groups[5], ".")),
			ExternalRef: strings.TrimSuffix(groups[6], "."),
			SenderName:  strings.TrimSpace(groups[7]),
			SenderPhone: groups[8],
			Date:        groups[9],
			Time:        groups[10],
			RawText:     raw,
			Source:      sender,
			Status:      domain.StatusConfirmed,
		}, nil
	}

	return nil, &ParseFailure{Reason: "no template matched"}
}
