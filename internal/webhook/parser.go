package webhook

import (
	"errors"
	"regexp"
	"strings"

	"github.com/amifistore/cekot-sub000/internal/model"
)

var ErrUnrecognizedFormat = errors.New("webhook message format not recognized")

// Event is the parsed form of a provider push message.
type Event struct {
	ProviderRef string
	Status      string // normalized, one of the model.Observed* values
	StatusText  string // raw status token as sent
	Keterangan  string // free-text remark, SN source
	SN          string
}

// Message patterns, ordered; the first one that yields a ref and a status
// token wins.
//
//	1. RC=<reffid> TrxID=<digits> <PRODUCT>.<digits> <STATUS>,<keterangan>... Saldo ... result=<code>
//	2. ReffID[=:] <reffid> ... Status[=:] <STATUS> ... Keterangan[=:] <keterangan>
//	3. reff_id[=:] <reffid> ... status[=:] <STATUS>
var messagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)RC=(\S+)\s+TrxID=\d+\s+\S+\.\d+\s+([A-Za-z]+)[,.]\s*(.*?)\s*Saldo.*result=\d+`),
	regexp.MustCompile(`(?is)ReffID\s*[=:]\s*(\S+).*?Status\s*[=:]\s*([A-Za-z]+).*?Keterangan\s*[=:]\s*(.+)`),
	regexp.MustCompile(`(?is)reff_id\s*[=:]\s*(\S+).*?status\s*[=:]\s*([A-Za-z]+)`),
}

// Serial extraction ladder. Labeled forms first, then any long alphanumeric
// run. Candidates shorter than 8 chars are discarded.
var snPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bSN\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)\bSerial\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)\bNo\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)\bkode\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)\bvoucher\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]+)`),
	regexp.MustCompile(`\b([A-Za-z0-9]{10,})\b`),
}

const minSNLength = 8

// Parse extracts a status event from the raw message text.
func Parse(message string) (*Event, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrUnrecognizedFormat
	}

	for _, pattern := range messagePatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}

		ev := &Event{
			ProviderRef: m[1],
			StatusText:  m[2],
			Status:      NormalizeStatus(m[2]),
		}
		if len(m) > 3 {
			ev.Keterangan = strings.TrimSpace(m[3])
		}
		ev.SN = ExtractSN(ev.Keterangan)
		return ev, nil
	}

	return nil, ErrUnrecognizedFormat
}

// NormalizeStatus maps raw provider status text onto the closed observed set.
// This table is authoritative; nothing else in the system interprets status
// strings.
func NormalizeStatus(text string) string {
	upper := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.Contains(upper, "SUKSES"), strings.Contains(upper, "SUCCESS"):
		return model.ObservedSuccess
	case strings.Contains(upper, "GAGAL"), strings.Contains(upper, "FAILED"):
		return model.ObservedFailed
	case strings.Contains(upper, "PROSES"), strings.Contains(upper, "PROCESSING"):
		return model.ObservedProcessing
	case strings.Contains(upper, "PENDING"):
		return model.ObservedPending
	case strings.Contains(upper, "REFUND"):
		return model.ObservedRefunded
	default:
		return model.ObservedUnknown
	}
}

// ExtractSN pulls a fulfillment serial out of the keterangan free text.
// Returns "" when nothing acceptable is found.
func ExtractSN(keterangan string) string {
	if keterangan == "" {
		return ""
	}
	for _, pattern := range snPatterns {
		m := pattern.FindStringSubmatch(keterangan)
		if m == nil {
			continue
		}
		sn := strings.TrimRight(m[1], "-")
		if len(sn) >= minSNLength {
			return sn
		}
	}
	return ""
}
