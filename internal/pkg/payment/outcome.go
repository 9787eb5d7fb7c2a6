package payment

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayBridge/internal/pkg/gateway"
)

// Outcome is how an intake ended. The HTTP layer only needs HTTPStatus.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeIgnored
	OutcomeDeferred
	// OutcomeUnassigned is an authentic payment stored without an owner.
	OutcomeUnassigned
	OutcomeForged
	OutcomeMalformed
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeUnassigned:
		return "unassigned"
	case OutcomeForged:
		return "forged"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransientFailure:
		return "transient_failure"
	}
	return "unknown"
}

// HTTPStatus maps the outcome for the gateway: 2xx stops redelivery, 4xx
// rejects without crediting, 5xx asks for redelivery.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeAccepted, OutcomeDuplicate, OutcomeIgnored, OutcomeUnassigned:
		return fiber.StatusOK
	case OutcomeDeferred:
		return fiber.StatusAccepted
	case OutcomeForged:
		return fiber.StatusUnauthorized
	case OutcomeMalformed:
		return fiber.StatusBadRequest
	}
	return fiber.StatusServiceUnavailable
}

// Result describes one intake.
type Result struct {
	Outcome        Outcome
	Verdict        gateway.Verdict
	GatewayTxID    string
	TransactionID  uint
	ExistingStatus string
	Detail         string
}

// Body is the JSON answer for the gateway.
func (r Result) Body() fiber.Map {
	switch r.Outcome {
	case OutcomeAccepted:
		return fiber.Map{"ok": true}
	case OutcomeDuplicate:
		return fiber.Map{"ok": true, "duplicate": true}
	case OutcomeIgnored:
		return fiber.Map{"ok": true, "ignored": true}
	case OutcomeDeferred:
		return fiber.Map{"ok": true, "queued": false}
	case OutcomeUnassigned:
		return fiber.Map{"ok": true, "unassigned": true}
	case OutcomeForged:
		return fiber.Map{"error": "invalid_signature"}
	case OutcomeMalformed:
		return fiber.Map{"error": "invalid_payload"}
	}
	return fiber.Map{"error": "storage_unavailable"}
}
