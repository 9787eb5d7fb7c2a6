package controllers

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayBridge/internal/pkg/gateway"
	"github.com/ManuelReschke/PayBridge/internal/pkg/payment"
)

const webhookTimeout = 15 * time.Second

// WebhookIntake is the payment pipeline as seen by the HTTP layer.
type WebhookIntake interface {
	HandleWebhook(ctx context.Context, n gateway.Notification) payment.Result
}

type WebhookController struct {
	intake  WebhookIntake
	proxies []netip.Prefix
	peerIP  func(c *fiber.Ctx) string
}

// NewWebhookController takes the reverse proxies (IPs or CIDRs) whose
// X-Forwarded-For entries are believed. Without any, the TCP peer is the
// source address.
func NewWebhookController(intake WebhookIntake, trustedProxies []string) *WebhookController {
	w := &WebhookController{intake: intake, peerIP: func(c *fiber.Ctx) string { return c.IP() }}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				log.Warnf("[Webhook] ignoring invalid trusted proxy %q", raw)
				continue
			}
			w.proxies = append(w.proxies, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			log.Warnf("[Webhook] ignoring invalid trusted proxy %q", raw)
			continue
		}
		w.proxies = append(w.proxies, prefix.Masked())
	}
	return w
}

// HandleGatewayWebhook serves POST /webhook/:gateway/:secret.
func (w *WebhookController) HandleGatewayWebhook(c *fiber.Ctx) error {
	g, ok := gateway.Parse(c.Params("gateway"))
	if !ok || !g.HasWebhook() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_gateway"})
	}

	// fasthttp reuses the body buffer after the handler returns
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res := w.intake.HandleWebhook(ctx, gateway.Notification{
		Gateway:    g,
		RawPayload: rawBody,
		Headers:    requestHeaders(c),
		PathSecret: c.Params("secret"),
		SourceIP:   w.sourceIP(c),
	})
	return c.Status(res.Outcome.HTTPStatus()).JSON(res.Body())
}

// sourceIP walks X-Forwarded-For from the right, since each proxy appends
// the address it saw, and returns the first hop that is not a trusted proxy.
// Entries left of that hop are client supplied and ignored.
func (w *WebhookController) sourceIP(c *fiber.Ctx) string {
	peer := w.peerIP(c)
	if !w.trusted(peer) {
		return peer
	}
	hops := c.IPs()
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !w.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (w *WebhookController) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range w.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func requestHeaders(c *fiber.Ctx) http.Header {
	h := http.Header{}
	for k, vals := range c.GetReqHeaders() {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	return h
}
