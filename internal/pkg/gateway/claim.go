package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	errNotObject = errors.New("payload is not a JSON object")
	// ErrMissingTxID is returned when no id field carries a value.
	ErrMissingTxID = errors.New("payload carries no transaction id")
)

var (
	txIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	vipOrderUser = regexp.MustCompile(`^vip_([0-9]{1,10})_`)

	maxAmount = decimal.NewFromInt(10000)

	idFields       = []string{"txId", "order_id", "orderId", "trackId", "id"}
	userFields     = []string{"user_id", "userId"}
	amountFields   = []string{"amount", "price_amount"}
	currencyFields = []string{"currency", "price_currency"}
	statusFields   = []string{"status", "payment_status"}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("txid", func(fl validator.FieldLevel) bool {
		return txIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		return d.IsPositive() && d.LessThanOrEqual(maxAmount) && d.Equal(d.Round(2))
	})
	return v
}

// StatusClass groups gateway specific status strings.
type StatusClass int

const (
	StatusPaid StatusClass = iota
	StatusInProgress
	StatusFailed
)

func (c StatusClass) String() string {
	switch c {
	case StatusPaid:
		return "paid"
	case StatusFailed:
		return "failed"
	}
	return "in_progress"
}

// Claim is what an authentic payload says about a payment.
type Claim struct {
	Gateway     Gateway         `validate:"required"`
	GatewayTxID string          `validate:"required,txid"`
	UserID      int64           `validate:"gte=0,lte=9999999999"`
	Amount      decimal.Decimal `validate:"money"`
	Currency    string          `validate:"omitempty,alpha,max=10"`
	Status      string          `validate:"max=64"`
}

// Class classifies Status. An absent status means the callback itself is
// the payment confirmation.
func (c Claim) Class() StatusClass {
	return ClassifyStatus(c.Status)
}

// Validate applies the claim field rules.
func (c Claim) Validate() error {
	return validate.Struct(c)
}

// ClassifyStatus maps the status vocabularies of all gateways.
func ClassifyStatus(status string) StatusClass {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "paid", "paid_over", "finished", "completed", "success", "successful":
		return StatusPaid
	case "failed", "fail", "system_fail", "expired", "cancel", "canceled", "cancelled",
		"refunded", "refund_paid", "wrong_amount", "rejected":
		return StatusFailed
	}
	return StatusInProgress
}

// ExtractClaim parses an authentic payload. The returned error means the
// payload is Malformed for the pipeline.
func ExtractClaim(g Gateway, raw []byte) (*Claim, error) {
	body, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	claim := &Claim{
		Gateway:     g,
		GatewayTxID: firstString(body, idFields...),
		Currency:    strings.ToUpper(firstString(body, currencyFields...)),
		Status:      firstString(body, statusFields...),
	}
	if claim.GatewayTxID == "" {
		return nil, ErrMissingTxID
	}

	if rawAmount := firstString(body, amountFields...); rawAmount != "" {
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", rawAmount, err)
		}
		claim.Amount = amount
	}

	if rawUser := firstString(body, userFields...); rawUser != "" {
		uid, err := strconv.ParseInt(rawUser, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", rawUser, err)
		}
		claim.UserID = uid
	} else if m := vipOrderUser.FindStringSubmatch(claim.GatewayTxID); m != nil {
		claim.UserID, _ = strconv.ParseInt(m[1], 10, 64)
	}

	if claim.Class() == StatusPaid {
		if err := claim.Validate(); err != nil {
			return nil, err
		}
	} else if !txIDPattern.MatchString(claim.GatewayTxID) {
		return nil, fmt.Errorf("invalid transaction id %q", claim.GatewayTxID)
	}
	return claim, nil
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := body[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case fmt.Stringer:
			s = val.String()
		case bool, map[string]any, []any:
			continue
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
