package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"hash"
	"net"
	"strings"
)

const (
	HeaderOxaPaySignature      = "X-OxaPay-Signature"
	HeaderOxaPayHMAC           = "HMAC"
	HeaderNOWPaymentsSignature = "X-Nowpayments-Sig"
)

// Secrets is the verification material shared with each gateway.
type Secrets struct {
	PathSecret           string
	OxaPayAPIKey         string
	CryptomusAPIKey      string
	CryptomusAllowedIPs  []string
	NOWPaymentsIPNSecret string
}

// Verifier checks notifications against Secrets. It holds no mutable state
// and is safe for concurrent use.
type Verifier struct {
	secrets    Secrets
	allowedIPs map[string]struct{}
}

func NewVerifier(secrets Secrets) *Verifier {
	allowed := make(map[string]struct{}, len(secrets.CryptomusAllowedIPs))
	for _, raw := range secrets.CryptomusAllowedIPs {
		if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
			allowed[ip.String()] = struct{}{}
		}
	}
	return &Verifier{secrets: secrets, allowedIPs: allowed}
}

// CheckPathSecret compares the URL secret segment in constant time. An
// unconfigured secret rejects everything.
func (v *Verifier) CheckPathSecret(got string) bool {
	want := v.secrets.PathSecret
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Verify returns the verdict for n. Stars deliveries are authenticated by the
// bot transport and always pass.
func (v *Verifier) Verify(n Notification) Verdict {
	if n.Gateway == Stars {
		return Authentic
	}
	if !v.CheckPathSecret(n.PathSecret) {
		return Forged
	}

	switch n.Gateway {
	case OxaPay:
		return v.verifyOxaPay(n)
	case Cryptomus:
		return v.verifyCryptomus(n)
	case NOWPayments:
		return v.verifyNOWPayments(n)
	}
	return Malformed
}

// verifyOxaPay checks HMAC-SHA256(raw body, api key) against the header.
func (v *Verifier) verifyOxaPay(n Notification) Verdict {
	expected, ok := decodeHexSignature(n.Header(HeaderOxaPaySignature, HeaderOxaPayHMAC))
	if !ok {
		return Malformed
	}
	if v.secrets.OxaPayAPIKey == "" {
		return Forged
	}
	if !verifyHMAC(n.RawPayload, expected, v.secrets.OxaPayAPIKey, sha256.New) {
		return Forged
	}
	return Authentic
}

// verifyCryptomus checks md5(base64(canonical body without "sign") + api key)
// against the body's "sign" field and the source IP against the allowlist.
// Either failure is Forged, without telling which. A body that does not parse
// carries no usable sign and is Forged as well.
func (v *Verifier) verifyCryptomus(n Notification) Verdict {
	body, err := decodeObject(n.RawPayload)
	if err != nil {
		return Forged
	}

	received, _ := body["sign"].(string)
	delete(body, "sign")
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return Malformed
	}

	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(canonical) + v.secrets.CryptomusAPIKey))
	expected := hex.EncodeToString(sum[:])

	signOK := v.secrets.CryptomusAPIKey != "" && received != "" &&
		subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(received)))) == 1
	ipOK := v.sourceAllowed(n.SourceIP)
	if !signOK || !ipOK {
		return Forged
	}
	return Authentic
}

// verifyNOWPayments checks HMAC-SHA512 over the key-sorted JSON body. Once
// a signature is present, a body that does not parse cannot match it and is
// Forged.
func (v *Verifier) verifyNOWPayments(n Notification) Verdict {
	expected, ok := decodeHexSignature(n.Header(HeaderNOWPaymentsSignature))
	if !ok {
		return Malformed
	}
	body, err := decodeObject(n.RawPayload)
	if err != nil {
		return Forged
	}
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return Malformed
	}
	if v.secrets.NOWPaymentsIPNSecret == "" {
		return Forged
	}
	if !verifyHMAC(canonical, expected, v.secrets.NOWPaymentsIPNSecret, sha512.New) {
		return Forged
	}
	return Authentic
}

func (v *Verifier) sourceAllowed(raw string) bool {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return false
	}
	_, ok := v.allowedIPs[ip.String()]
	return ok
}

func decodeHexSignature(sig string) ([]byte, bool) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}

func verifyHMAC(payload, expectedSig []byte, secret string, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil || dec.More() {
		return nil, errNotObject
	}
	return body, nil
}

// CanonicalJSON encodes v compactly with object keys sorted at every level
// and without HTML escaping. Numbers decoded with UseNumber keep their text.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
