// Package gateway verifies inbound payment notifications and extracts the
// payment claim from authentic payloads.
package gateway

import (
	"net/http"
	"strings"
)

// Gateway identifies a payment processor.
type Gateway string

const (
	OxaPay      Gateway = "oxapay"
	Cryptomus   Gateway = "cryptomus"
	NOWPayments Gateway = "nowpayments"
	Stars       Gateway = "stars"
)

// Parse maps a route segment or stored name to a Gateway.
func Parse(name string) (Gateway, bool) {
	switch Gateway(strings.ToLower(strings.TrimSpace(name))) {
	case OxaPay:
		return OxaPay, true
	case Cryptomus:
		return Cryptomus, true
	case NOWPayments:
		return NOWPayments, true
	case Stars:
		return Stars, true
	}
	return "", false
}

// HasWebhook is false for gateways that deliver through the bot transport.
func (g Gateway) HasWebhook() bool {
	return g != Stars && g != ""
}

func (g Gateway) String() string { return string(g) }

// Verdict is the result of Verify.
type Verdict int

const (
	Authentic Verdict = iota
	Forged
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case Authentic:
		return "authentic"
	case Forged:
		return "forged"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Notification is one inbound delivery as handed over by the HTTP layer.
type Notification struct {
	Gateway    Gateway
	RawPayload []byte
	Headers    http.Header
	PathSecret string
	SourceIP   string
}

// Header returns the first non-empty value among keys.
func (n Notification) Header(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(n.Headers.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
