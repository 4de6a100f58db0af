package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/ports/adapter"
)

var _ adapter.CheckoutWidget = (*HostedWidget)(nil)

const (
	defaultWidgetTimeout = 900 * time.Second
	scriptFetchTimeout   = 10 * time.Second
)

// Bridge message types posted by the browser page hosting the checkout script.
const (
	BridgeCompleted     = "completed"
	BridgeDismissed     = "dismissed"
	BridgePaymentFailed = "payment_failed"
)

// BridgeMessage is one widget callback relayed from the browser.
type BridgeMessage struct {
	Type             string `json:"type"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	Signature        string `json:"signature,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// HostedWidget drives widget sessions whose UI runs in the browser. Callbacks
// arrive through Deliver; each session yields one terminal WidgetEvent.
type HostedWidget struct {
	scriptURL string
	client    *http.Client
	logger    *zerolog.Logger

	// unit scales WidgetOptions.TimeoutSeconds; tests shrink it
	unit time.Duration

	mu       sync.Mutex
	loaded   bool
	inflight *loadCall
	sessions map[string]*widgetSession
}

type loadCall struct {
	done chan struct{}
	err  error
}

type widgetSession struct {
	opts  adapter.WidgetOptions
	inbox chan BridgeMessage
	done  chan struct{}
}

func NewHostedWidget(scriptURL string, client *http.Client, logger *zerolog.Logger) *HostedWidget {
	if client == nil {
		client = &http.Client{Timeout: scriptFetchTimeout}
	}
	lg := logger.With().Str("component", "checkout_widget").Logger()
	return &HostedWidget{
		scriptURL: scriptURL,
		client:    client,
		logger:    &lg,
		unit:      time.Second,
		sessions:  make(map[string]*widgetSession),
	}
}

// Load fetches the checkout script once. Concurrent callers share the attempt;
// a failed attempt is not cached.
func (w *HostedWidget) Load(ctx context.Context) error {
	w.mu.Lock()
	if w.loaded {
		w.mu.Unlock()
		return nil
	}
	call := w.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		w.inflight = call
		go w.fetchScript(call)
	}
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.done:
		return call.err
	}
}

func (w *HostedWidget) fetchScript(call *loadCall) {
	ctx, cancel := context.WithTimeout(context.Background(), scriptFetchTimeout)
	defer cancel()

	err := w.download(ctx)

	w.mu.Lock()
	if err == nil {
		w.loaded = true
	} else {
		w.logger.Error().Err(err).Str("url", w.scriptURL).Msg("failed to load checkout script")
	}
	call.err = err
	w.inflight = nil
	w.mu.Unlock()
	close(call.done)
}

func (w *HostedWidget) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.scriptURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: script responded %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	return nil
}

// Open registers a session for opts.OrderID. A second Open for the same order replaces the first.
func (w *HostedWidget) Open(ctx context.Context, opts adapter.WidgetOptions) (<-chan adapter.WidgetEvent, error) {
	if opts.OrderID == "" || opts.Key == "" || opts.Amount <= 0 {
		return nil, domain.ErrInvalidOrderData
	}
	w.mu.Lock()
	if !w.loaded {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: checkout script not loaded", domain.ErrGatewayUnavailable)
	}
	if old, ok := w.sessions[opts.OrderID]; ok {
		close(old.done)
	}
	s := &widgetSession{
		opts:  opts,
		inbox: make(chan BridgeMessage, 4),
		done:  make(chan struct{}),
	}
	w.sessions[opts.OrderID] = s
	w.mu.Unlock()

	out := make(chan adapter.WidgetEvent, 1)
	go w.run(ctx, s, out)
	return out, nil
}

// Deliver hands a browser callback to the open session for orderID.
func (w *HostedWidget) Deliver(orderID string, msg BridgeMessage) error {
	w.mu.Lock()
	s, ok := w.sessions[orderID]
	w.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	switch msg.Type {
	case BridgeCompleted, BridgeDismissed, BridgePaymentFailed:
	default:
		return domain.ErrInvalidArgument
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return domain.ErrNotFound
	}
}

// Options returns the widget configuration of an open session for the browser page.
func (w *HostedWidget) Options(orderID string) (adapter.WidgetOptions, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[orderID]
	if !ok {
		return adapter.WidgetOptions{}, false
	}
	return s.opts, true
}

func (w *HostedWidget) run(ctx context.Context, s *widgetSession, out chan<- adapter.WidgetEvent) {
	defer close(out)
	defer w.release(s)

	timeout := defaultWidgetTimeout
	if s.opts.TimeoutSeconds > 0 {
		timeout = time.Duration(s.opts.TimeoutSeconds) * w.unit
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	lg := w.logger.With().Str("gateway_order_id", s.opts.OrderID).Logger()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			out <- adapter.WidgetEvent{Kind: adapter.WidgetDismissed, Reason: "timeout"}
			return
		case msg := <-s.inbox:
			switch msg.Type {
			case BridgeCompleted:
				out <- adapter.WidgetEvent{Kind: adapter.WidgetCompleted, Payment: adapter.PaymentCallback{
					GatewayPaymentID: msg.GatewayPaymentID,
					GatewayOrderID:   msg.GatewayOrderID,
					Signature:        msg.Signature,
				}}
				return
			case BridgeDismissed:
				out <- adapter.WidgetEvent{Kind: adapter.WidgetDismissed, Reason: msg.Reason}
				return
			case BridgePaymentFailed:
				failures++
				if s.opts.Retry.Enabled && failures <= s.opts.Retry.MaxCount {
					lg.Info().Int("attempt", failures).Str("reason", msg.Reason).Msg("payment attempt failed, widget retrying")
					continue
				}
				out <- adapter.WidgetEvent{Kind: adapter.WidgetFailed, Reason: msg.Reason}
				return
			}
		}
	}
}

func (w *HostedWidget) release(s *widgetSession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.sessions[s.opts.OrderID]; ok && cur == s {
		delete(w.sessions, s.opts.OrderID)
	}
}
