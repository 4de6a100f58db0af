package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// razorpayAPI is the slice of the razorpay-go client the gateway calls.
type razorpayAPI interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	FetchPayment(id string) (map[string]interface{}, error)
	OrderPayments(orderID string) (map[string]interface{}, error)
}

type sdkClient struct{ c *razorpay.Client }

func (s sdkClient) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return s.c.Order.Create(data, nil)
}

func (s sdkClient) FetchPayment(id string) (map[string]interface{}, error) {
	return s.c.Payment.Fetch(id, nil, nil)
}

func (s sdkClient) OrderPayments(orderID string) (map[string]interface{}, error) {
	return s.c.Order.Payments(orderID, nil, nil)
}

// RazorpayGateway implements adapter.PaymentGateway on the Razorpay REST API.
// Every call runs through one circuit breaker; an open breaker reports ErrGatewayUnavailable.
type RazorpayGateway struct {
	api    razorpayAPI
	keyID  string
	cb     *gobreaker.CircuitBreaker[map[string]interface{}]
	logger *zerolog.Logger
}

func NewRazorpayGateway(keyID, keySecret string, logger *zerolog.Logger) (*RazorpayGateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	return newRazorpayGateway(sdkClient{c: razorpay.NewClient(keyID, keySecret)}, keyID, logger), nil
}

func newRazorpayGateway(api razorpayAPI, keyID string, logger *zerolog.Logger) *RazorpayGateway {
	lg := logger.With().Str("component", "razorpay").Logger()
	st := gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("gateway circuit breaker state change")
		},
	}
	return &RazorpayGateway{
		api:    api,
		keyID:  keyID,
		cb:     gobreaker.NewCircuitBreaker[map[string]interface{}](st),
		logger: &lg,
	}
}

func (g *RazorpayGateway) Name() string      { return "razorpay" }
func (g *RazorpayGateway) PublicKey() string { return g.keyID }

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (adapter.GatewayOrder, error) {
	if req.Amount <= 0 || req.Currency == "" {
		return adapter.GatewayOrder{}, fmt.Errorf("%w: amount and currency are required", domain.ErrInvalidArgument)
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}
	body, err := g.call(ctx, "create_order", func() (map[string]interface{}, error) {
		return g.api.CreateOrder(data)
	})
	if err != nil {
		return adapter.GatewayOrder{}, err
	}
	o := adapter.GatewayOrder{
		ID:       str(body, "id"),
		Amount:   int64Of(body, "amount"),
		Currency: str(body, "currency"),
		Status:   str(body, "status"),
	}
	if o.ID == "" {
		return adapter.GatewayOrder{}, fmt.Errorf("%w: order response without id", domain.ErrGatewayError)
	}
	return o, nil
}

func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (adapter.GatewayPayment, error) {
	if paymentID == "" {
		return adapter.GatewayPayment{}, domain.ErrInvalidArgument
	}
	body, err := g.call(ctx, "fetch_payment", func() (map[string]interface{}, error) {
		return g.api.FetchPayment(paymentID)
	})
	if err != nil {
		return adapter.GatewayPayment{}, err
	}
	return toPayment(body), nil
}

func (g *RazorpayGateway) OrderPayments(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error) {
	if orderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	body, err := g.call(ctx, "order_payments", func() (map[string]interface{}, error) {
		return g.api.OrderPayments(orderID)
	})
	if err != nil {
		return nil, err
	}
	items, _ := body["items"].([]interface{})
	out := make([]adapter.GatewayPayment, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, toPayment(m))
		}
	}
	return out, nil
}

// call runs fn through the breaker, honouring ctx and recording latency.
// The SDK is synchronous, so a cancelled ctx abandons the result rather than the request.
func (g *RazorpayGateway) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	type result struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := g.cb.Execute(fn)
		ch <- result{b, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		metrics.ObserveGatewayCall(op, "timeout", time.Since(start))
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, ctx.Err())
	case res = <-ch:
	}

	switch {
	case res.err == nil:
		metrics.ObserveGatewayCall(op, "ok", time.Since(start))
		return res.body, nil
	case errors.Is(res.err, gobreaker.ErrOpenState), errors.Is(res.err, gobreaker.ErrTooManyRequests):
		metrics.ObserveGatewayCall(op, "open", time.Since(start))
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, res.err)
	default:
		metrics.ObserveGatewayCall(op, "error", time.Since(start))
		g.logger.Error().Err(res.err).Str("op", op).Msg("razorpay call failed")
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrGatewayError, op, res.err)
	}
}

func toPayment(m map[string]interface{}) adapter.GatewayPayment {
	p := adapter.GatewayPayment{
		ID:       str(m, "id"),
		OrderID:  str(m, "order_id"),
		Amount:   int64Of(m, "amount"),
		Currency: str(m, "currency"),
		Status:   str(m, "status"),
		Method:   str(m, "method"),
	}
	if ts := int64Of(m, "created_at"); ts > 0 {
		p.CreatedAt = time.Unix(ts, 0).UTC()
	}
	return p
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// int64Of reads a JSON number; the SDK decodes them as float64.
func int64Of(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
