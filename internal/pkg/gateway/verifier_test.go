package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPathSecret  = "path-secret"
	testOxaKey      = "test_api_key_123"
	testCryptoKey   = "cryptomus-key"
	testNowSecret   = "ipn-secret"
	cryptomusSource = "91.227.144.54"
)

func testVerifier() *Verifier {
	return NewVerifier(Secrets{
		PathSecret:           testPathSecret,
		OxaPayAPIKey:         testOxaKey,
		CryptomusAPIKey:      testCryptoKey,
		CryptomusAllowedIPs:  []string{cryptomusSource},
		NOWPaymentsIPNSecret: testNowSecret,
	})
}

func hmacHex(payload []byte, key string, sha512Hash bool) string {
	h := sha256.New
	if sha512Hash {
		h = sha512.New
	}
	mac := hmac.New(h, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func cryptomusSign(t *testing.T, body map[string]any, key string) string {
	t.Helper()
	canonical, err := CanonicalJSON(body)
	require.NoError(t, err)
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(canonical) + key))
	return hex.EncodeToString(sum[:])
}

func oxaNotification(payload []byte, sig string) Notification {
	h := http.Header{}
	if sig != "" {
		h.Set(HeaderOxaPaySignature, sig)
	}
	return Notification{Gateway: OxaPay, RawPayload: payload, Headers: h, PathSecret: testPathSecret}
}

func flipHex(c byte) byte {
	if c == '0' {
		return '1'
	}
	return '0'
}

func TestVerifyOxaPay(t *testing.T) {
	v := testVerifier()
	payload := []byte(`{"txId":"abc123","amount":"10.00"}`)
	sig := hmacHex(payload, testOxaKey, false)

	assert.Equal(t, Authentic, v.Verify(oxaNotification(payload, sig)))
	assert.Equal(t, Authentic, v.Verify(oxaNotification(payload, strings.ToUpper(sig))))

	t.Run("every payload byte matters", func(t *testing.T) {
		for i := range payload {
			mutated := append([]byte(nil), payload...)
			mutated[i] ^= 0x01
			assert.Equal(t, Forged, v.Verify(oxaNotification(mutated, sig)), "byte %d", i)
		}
	})

	t.Run("every signature byte matters", func(t *testing.T) {
		for i := 0; i < len(sig); i++ {
			mutated := []byte(sig)
			mutated[i] = flipHex(mutated[i])
			assert.Equal(t, Forged, v.Verify(oxaNotification(payload, string(mutated))), "char %d", i)
		}
	})

	t.Run("legacy HMAC header", func(t *testing.T) {
		n := oxaNotification(payload, "")
		n.Headers.Set(HeaderOxaPayHMAC, sig)
		assert.Equal(t, Authentic, v.Verify(n))
	})

	t.Run("missing or unparsable header is malformed", func(t *testing.T) {
		assert.Equal(t, Malformed, v.Verify(oxaNotification(payload, "")))
		assert.Equal(t, Malformed, v.Verify(oxaNotification(payload, "not-hex")))
	})

	t.Run("wrong key is forged", func(t *testing.T) {
		assert.Equal(t, Forged, v.Verify(oxaNotification(payload, hmacHex(payload, "other", false))))
	})
}

func TestVerifyPathSecretIsPreFilter(t *testing.T) {
	v := testVerifier()
	payload := []byte(`{"txId":"abc123"}`)
	n := oxaNotification(payload, hmacHex(payload, testOxaKey, false))

	n.PathSecret = "wrong"
	assert.Equal(t, Forged, v.Verify(n))

	n.PathSecret = ""
	assert.Equal(t, Forged, v.Verify(n))

	// even unparsable bodies are rejected as forged before parsing
	bad := oxaNotification([]byte("{"), "")
	bad.PathSecret = "wrong"
	assert.Equal(t, Forged, v.Verify(bad))

	unconfigured := NewVerifier(Secrets{OxaPayAPIKey: testOxaKey})
	n.PathSecret = ""
	assert.False(t, unconfigured.CheckPathSecret(""))
	assert.Equal(t, Forged, unconfigured.Verify(n))
}

func TestVerifyCryptomus(t *testing.T) {
	v := testVerifier()
	body := map[string]any{
		"uuid":     "e1830f1b-50fc-432e-80ec-15b58ccac867",
		"order_id": "vip_123456789_A1B2",
		"amount":   "10.00",
		"currency": "USD",
		"status":   "paid",
		"url":      "https://pay.example/a?b=1&c=2",
	}
	sign := cryptomusSign(t, body, testCryptoKey)

	build := func(sign, ip string, mutate func(string) string) Notification {
		payload := `{"amount":"10.00","currency":"USD","order_id":"vip_123456789_A1B2","sign":"` + sign +
			`","status":"paid","url":"https://pay.example/a?b=1&c=2","uuid":"e1830f1b-50fc-432e-80ec-15b58ccac867"}`
		if mutate != nil {
			payload = mutate(payload)
		}
		return Notification{Gateway: Cryptomus, RawPayload: []byte(payload), PathSecret: testPathSecret, SourceIP: ip, Headers: http.Header{}}
	}

	assert.Equal(t, Authentic, v.Verify(build(sign, cryptomusSource, nil)))

	tests := []struct {
		name string
		n    Notification
		want Verdict
	}{
		{"wrong source ip", build(sign, "10.1.2.3", nil), Forged},
		{"missing source ip", build(sign, "", nil), Forged},
		{"wrong sign", build(strings.Repeat("0", 32), cryptomusSource, nil), Forged},
		{"empty sign", build("", cryptomusSource, nil), Forged},
		{"wrong sign and ip", build(strings.Repeat("0", 32), "10.1.2.3", nil), Forged},
		{"tampered amount", build(sign, cryptomusSource, func(p string) string {
			return strings.Replace(p, `"10.00"`, `"99.00"`, 1)
		}), Forged},
		{"not json", build(sign, cryptomusSource, func(p string) string { return p[:10] }), Forged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, v.Verify(tc.n))
		})
	}

	t.Run("every payload byte matters", func(t *testing.T) {
		payload := build(sign, cryptomusSource, nil).RawPayload
		for i := range payload {
			n := build(sign, cryptomusSource, nil)
			n.RawPayload = append([]byte(nil), payload...)
			n.RawPayload[i] ^= 0x01
			assert.Equal(t, Forged, v.Verify(n), "byte %d", i)
		}
	})
}

func TestVerifyNOWPayments(t *testing.T) {
	v := testVerifier()
	sorted := []byte(`{"actually_paid":10,"order_id":"vip_42_x","payment_id":5077125051,"payment_status":"finished","price_amount":10,"price_currency":"usd"}`)
	sig := hmacHex(sorted, testNowSecret, true)

	notification := func(payload []byte, sig string) Notification {
		h := http.Header{}
		if sig != "" {
			h.Set("x-nowpayments-sig", sig)
		}
		return Notification{Gateway: NOWPayments, RawPayload: payload, Headers: h, PathSecret: testPathSecret}
	}

	assert.Equal(t, Authentic, v.Verify(notification(sorted, sig)))

	reordered := []byte(`{"payment_status":"finished", "order_id":"vip_42_x", "price_currency":"usd", "payment_id":5077125051, "price_amount":10, "actually_paid":10}`)
	assert.Equal(t, Authentic, v.Verify(notification(reordered, sig)), "key order and whitespace are canonicalized")

	tampered := []byte(strings.Replace(string(sorted), "vip_42_x", "vip_43_x", 1))
	assert.Equal(t, Forged, v.Verify(notification(tampered, sig)))

	wrongSig := []byte(sig)
	wrongSig[0] = flipHex(wrongSig[0])
	assert.Equal(t, Forged, v.Verify(notification(sorted, string(wrongSig))))

	assert.Equal(t, Malformed, v.Verify(notification(sorted, "")))
	assert.Equal(t, Malformed, v.Verify(notification(sorted, "zz")))
	assert.Equal(t, Forged, v.Verify(notification([]byte(`[1,2]`), sig)))
	assert.Equal(t, Forged, v.Verify(notification([]byte(`{"a":1} trailing`), sig)))

	for i := range sorted {
		mutated := append([]byte(nil), sorted...)
		mutated[i] ^= 0x01
		assert.Equal(t, Forged, v.Verify(notification(mutated, sig)), "byte %d", i)
	}
}

func TestVerifyStarsBypassesSignature(t *testing.T) {
	v := testVerifier()
	assert.Equal(t, Authentic, v.Verify(Notification{Gateway: Stars}))
}

func TestVerifyUnknownGateway(t *testing.T) {
	v := testVerifier()
	assert.Equal(t, Malformed, v.Verify(Notification{Gateway: "paypal", PathSecret: testPathSecret}))
}

func TestCanonicalJSON(t *testing.T) {
	body, err := decodeObject([]byte(`{"b":{"z":1,"a":"x&y"},"a":1.50}`))
	require.NoError(t, err)

	out, err := CanonicalJSON(body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.50,"b":{"a":"x&y","z":1}}`, string(out))
}

func TestParseGateway(t *testing.T) {
	g, ok := Parse(" OxaPay ")
	assert.True(t, ok)
	assert.Equal(t, OxaPay, g)
	assert.True(t, g.HasWebhook())

	g, ok = Parse("stars")
	assert.True(t, ok)
	assert.False(t, g.HasWebhook())

	_, ok = Parse("stripe")
	assert.False(t, ok)
}
