package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/app/repository"
	"github.com/ManuelReschke/PayBridge/internal/pkg/gateway"
)

// Sweeper triggers an immediate recovery sweep.
type Sweeper interface {
	TriggerSweep(ctx context.Context) (int, error)
	IsRunning() bool
}

// QueueDepth reports the bridge fill level.
type QueueDepth interface {
	Len() int
	Cap() int
}

// OutcomeStats returns today's webhook outcome counters.
type OutcomeStats interface {
	Today(ctx context.Context) (map[string]map[string]int64, error)
}

// InvoiceRegistrar records pending intents.
type InvoiceRegistrar interface {
	RegisterInvoice(ctx context.Context, g gateway.Gateway, orderID string, userID int64, amount decimal.Decimal, currency string) (bool, error)
}

type Deps struct {
	Transactions repository.TransactionRepository
	Users        repository.UserRepository
	Events       repository.WebhookEventRepository
	Sweeper      Sweeper
	Queue        QueueDepth
	// Outcomes is nil when Redis is unavailable.
	Outcomes OutcomeStats
	Invoices InvoiceRegistrar
	Settings repository.SettingRepository
}

// APIServer implements the ServerInterface
type APIServer struct {
	deps Deps
	now  func() time.Time
}

func NewAPIServer(deps Deps) *APIServer {
	return &APIServer{deps: deps, now: time.Now}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetStats returns transaction counts, VIP count, bridge depth and today's
// outcome counters.
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	counts, err := s.deps.Transactions.CountByStatus(ctx)
	if err != nil {
		return storageError(c, err)
	}
	active, err := s.deps.Users.CountActiveVIP(ctx, s.now())
	if err != nil {
		return storageError(c, err)
	}

	resp := StatsResponse{
		Transactions: counts,
		ActiveVIP:    active,
		Bridge:       BridgeStats{Depth: s.deps.Queue.Len(), Capacity: s.deps.Queue.Cap()},
		Today:        map[string]map[string]int64{},
		Scheduler:    s.deps.Sweeper.IsRunning(),
		GeneratedAt:  s.now().UTC(),
	}
	if s.deps.Outcomes != nil {
		if today, err := s.deps.Outcomes.Today(ctx); err == nil {
			resp.Today = today
		} else {
			log.Warnf("[API] outcome counters unavailable: %v", err)
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// PostSweep runs a recovery sweep now.
func (s *APIServer) PostSweep(c *fiber.Ctx) error {
	n, err := s.deps.Sweeper.TriggerSweep(c.UserContext())
	if err != nil {
		return storageError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(SweepResponse{Enqueued: n})
}

// PostInvoice registers a pending intent so the later webhook resolves
// to the user.
func (s *APIServer) PostInvoice(c *fiber.Ctx) error {
	var req InvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	g, ok := gateway.Parse(req.Gateway)
	if !ok || !g.HasWebhook() {
		return badRequest(c, "Unknown gateway")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest(c, "Invalid amount")
	}

	created, err := s.deps.Invoices.RegisterInvoice(c.UserContext(), g, req.OrderID, req.UserID, amount, req.Currency)
	if err != nil {
		if errors.Is(err, repository.ErrTransientStorage) {
			return storageError(c, err)
		}
		return badRequest(c, err.Error())
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(InvoiceResponse{Created: created})
}

// GetEvents lists the newest webhook audit rows.
func (s *APIServer) GetEvents(c *fiber.Ctx, params GetEventsParams) error {
	limit := 50
	if params.Limit != nil {
		limit = *params.Limit
	}
	rows, err := s.deps.Events.ListRecent(c.UserContext(), limit)
	if err != nil {
		return storageError(c, err)
	}
	out := make([]WebhookEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, WebhookEvent{
			ID:          r.ID,
			Gateway:     r.Gateway,
			GatewayTxID: r.GatewayTxID,
			Verdict:     r.Verdict,
			Outcome:     r.Outcome,
			SourceIP:    r.SourceIP,
			CreatedAt:   r.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"events": out})
}

// GetSettings returns the runtime tunables.
func (s *APIServer) GetSettings(c *fiber.Ctx) error {
	current, err := s.deps.Settings.Get()
	if err != nil {
		return storageError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(current)
}

// PutSettings overlays the posted fields on the current tunables and
// persists them. Bridge capacity applies after a restart.
func (s *APIServer) PutSettings(c *fiber.Ctx) error {
	current, err := s.deps.Settings.Get()
	if err != nil {
		return storageError(c, err)
	}
	raw, err := current.ToJSON()
	if err != nil {
		return storageError(c, err)
	}
	next := models.DefaultAppSettings()
	if err := json.Unmarshal(raw, next); err != nil {
		return storageError(c, err)
	}
	if err := c.BodyParser(next); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := next.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.deps.Settings.Save(next); err != nil {
		return storageError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(next)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}

func storageError(c *fiber.Ctx, err error) error {
	log.Errorf("[API] %v", err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
}
