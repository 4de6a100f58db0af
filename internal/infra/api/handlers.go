package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/infra/payment"
	"ai-reseller-checkout/internal/usecase"
)

const maxBodyBytes = 1 << 20

type purchaseItemResponse struct {
	ID            string  `json:"id"`
	ItemType      string  `json:"item_type"`
	ItemRef       string  `json:"item_ref"`
	ItemName      string  `json:"item_name"`
	ItemPrice     string  `json:"item_price"`
	BillingPeriod *string `json:"billing_period,omitempty"`
}

type purchaseResponse struct {
	ID               string                 `json:"id"`
	TotalAmount      string                 `json:"total_amount"`
	Currency         string                 `json:"currency"`
	PaymentStatus    string                 `json:"payment_status"`
	PaymentMethod    *string                `json:"payment_method,omitempty"`
	GatewayOrderID   *string                `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string                `json:"gateway_payment_id,omitempty"`
	CouponCode       *string                `json:"coupon_code,omitempty"`
	CouponDiscount   *string                `json:"coupon_discount,omitempty"`
	ExpiresAt        time.Time              `json:"expires_at"`
	CreatedAt        time.Time              `json:"created_at"`
	Items            []purchaseItemResponse `json:"items"`
}

func toPurchaseResponse(p *model.Purchase) purchaseResponse {
	out := purchaseResponse{
		ID:               p.ID,
		TotalAmount:      p.TotalAmount.StringFixed(2),
		Currency:         p.Currency,
		PaymentStatus:    string(p.PaymentStatus),
		PaymentMethod:    p.PaymentMethod,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		CouponCode:       p.CouponCode,
		ExpiresAt:        p.ExpiresAt,
		CreatedAt:        p.CreatedAt,
		Items:            make([]purchaseItemResponse, 0, len(p.Items)),
	}
	if p.CouponDiscount != nil {
		d := p.CouponDiscount.StringFixed(2)
		out.CouponDiscount = &d
	}
	for _, it := range p.Items {
		ir := purchaseItemResponse{ID: it.ID, ItemName: it.ItemName, ItemPrice: it.ItemPrice.StringFixed(2)}
		switch {
		case it.ServiceID != nil:
			ir.ItemType, ir.ItemRef = string(model.ItemTypeService), *it.ServiceID
		case it.BundleID != nil:
			ir.ItemType, ir.ItemRef = string(model.ItemTypeBundle), *it.BundleID
		case it.AddonID != nil:
			ir.ItemType, ir.ItemRef = string(model.ItemTypeAddon), *it.AddonID
		}
		if it.BillingPeriod != nil {
			bp := string(*it.BillingPeriod)
			ir.BillingPeriod = &bp
		}
		out.Items = append(out.Items, ir)
	}
	return out
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createOrderRequest struct {
	Items      []model.CartItem `json:"items"`
	CouponCode *string          `json:"coupon_code,omitempty"`
	GSTNumber  *string          `json:"gst_number,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.deps.Orders.CreateOrder(r.Context(), usecase.CreateOrderInput{
		UserID:     userFrom(r.Context()),
		Items:      req.Items,
		CouponCode: req.CouponCode,
		GSTNumber:  req.GSTNumber,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, data)
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.deps.Orders.ListByUser(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]purchaseResponse, 0, len(list))
	for _, p := range list {
		items = append(items, toPurchaseResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ownedPurchase loads a purchase and hides other users' purchases behind ErrNotFound.
func (s *Server) ownedPurchase(r *http.Request, id string) (*model.Purchase, error) {
	p, err := s.deps.Orders.GetDetails(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userFrom(r.Context()) {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// ownedOrder is ownedPurchase keyed by the gateway order id the widget bridge routes on.
func (s *Server) ownedOrder(r *http.Request, orderID string) (*model.Purchase, error) {
	p, err := s.deps.Orders.FindByGatewayOrder(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userFrom(r.Context()) {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPurchase(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(p))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	next := model.PaymentStatus(req.Status)
	switch next {
	case model.PaymentStatusProcessing, model.PaymentStatusCancelled, model.PaymentStatusFailed:
	case model.PaymentStatusCompleted:
		// completion belongs to the verifier
		writeJSON(w, http.StatusForbidden, errorBody{Error: "completion requires payment verification"})
		return
	default:
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.ownedPurchase(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := logging.WithPurchaseID(r.Context(), id)
	p, err := s.deps.Orders.UpdateStatus(ctx, id, next, nil, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(p))
}

func (s *Server) handleReissue(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Orders.Reissue(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type validateCouponRequest struct {
	Code  string           `json:"code"`
	Items []model.CartItem `json:"items"`
}

type validateCouponResponse struct {
	Valid    bool   `json:"valid"`
	Code     string `json:"code,omitempty"`
	Discount string `json:"discount"`
	Message  string `json:"message,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, domain.ErrEmptyCart)
		return
	}
	res := s.deps.Coupons.Validate(r.Context(), req.Code, userFrom(r.Context()), req.Items)
	if res.Err != nil && !errors.Is(res.Err, domain.ErrCouponInvalid) {
		writeError(w, r, res.Err)
		return
	}
	out := validateCouponResponse{Valid: res.Valid, Discount: res.Discount.StringFixed(2)}
	if res.Coupon != nil {
		out.Code = res.Coupon.Code
	}
	if res.Err != nil {
		out.Message = publicMessage(res.Err)
		out.Reason = string(domain.CouponReasonOf(res.Err))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in usecase.VerifyInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.ownedPurchase(r, in.PurchaseID); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Verify.Verify(r.Context(), in)
	if err != nil {
		status := statusOf(err)
		msg := publicMessage(err)
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		writeJSON(w, status, usecase.VerifyResult{Success: false, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const webhookSignatureHeader = "X-Razorpay-Signature"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	err = s.deps.Verify.HandleWebhook(r.Context(), body, r.Header.Get(webhookSignatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, domain.ErrVerificationFailed), errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: publicMessage(err)})
	default:
		// non-2xx makes the gateway redeliver
		s.log.Error().Err(err).Msg("webhook processing failed")
		writeError(w, r, err)
	}
}

func (s *Server) handleWidgetOptions(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if _, err := s.ownedOrder(r, orderID); err != nil {
		writeError(w, r, err)
		return
	}
	opts, ok := s.deps.Bridge.Options(orderID)
	if !ok {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleWidgetEvent(w http.ResponseWriter, r *http.Request) {
	var msg payment.BridgeMessage
	if err := decode(r, &msg); err != nil {
		writeError(w, r, err)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if _, err := s.ownedOrder(r, orderID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Bridge.Deliver(orderID, msg); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
