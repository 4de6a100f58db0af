package api

import (
	"net/http"
	"time"

	"ai-reseller-checkout/internal/application"
	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/usecase"
)

type prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

func (p prefill) details() application.UserDetails {
	return application.UserDetails{Name: p.Name, Email: p.Email, Contact: p.Contact}
}

type startCheckoutRequest struct {
	Items      []model.CartItem `json:"items"`
	CouponCode *string          `json:"coupon_code,omitempty"`
	GSTNumber  *string          `json:"gst_number,omitempty"`
	Prefill    prefill          `json:"prefill"`
}

type retryCheckoutRequest struct {
	PurchaseID string  `json:"purchase_id"`
	Prefill    prefill `json:"prefill"`
}

type checkoutState struct {
	IsLoading        bool              `json:"is_loading"`
	IsProcessing     bool              `json:"is_processing"`
	PaymentStatus    string            `json:"payment_status,omitempty"`
	Error            string            `json:"error,omitempty"`
	Warning          string            `json:"warning,omitempty"`
	ExpiresInSeconds int64             `json:"expires_in_seconds"`
	Purchase         *purchaseResponse `json:"purchase,omitempty"`
}

type checkoutResponse struct {
	Order   *usecase.OrderData     `json:"order,omitempty"`
	Widget  *adapter.WidgetOptions `json:"widget,omitempty"`
	State   checkoutState          `json:"state"`
	Outcome *application.Outcome   `json:"outcome,omitempty"`
}

func (s *Server) userContext(r *http.Request) application.UserContext {
	return application.UserContext{UserID: userFrom(r.Context()), AccessToken: bearerToken(r)}
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := s.userContext(r)
	c := s.deps.Sessions.Get(user.UserID)

	od, err := c.CreateOrder(r.Context(), user, req.Items, req.CouponCode, req.GSTNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.ProcessPayment(r.Context(), od, user, req.Prefill.details()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeCheckout(w, http.StatusCreated, user.UserID, od)
}

func (s *Server) handleRetryCheckout(w http.ResponseWriter, r *http.Request) {
	var req retryCheckoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PurchaseID == "" {
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	p, err := s.ownedPurchase(r, req.PurchaseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := s.userContext(r)
	if err := s.deps.Sessions.Get(user.UserID).RetryPayment(r.Context(), p, user, req.Prefill.details()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeCheckout(w, http.StatusOK, user.UserID, nil)
}

func (s *Server) handleCheckoutState(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if _, ok := s.deps.Sessions.View(userID); !ok {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	s.writeCheckout(w, http.StatusOK, userID, nil)
}

func (s *Server) handleDropCheckout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Drop(userFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeCheckout(w http.ResponseWriter, status int, userID string, od *usecase.OrderData) {
	view, _ := s.deps.Sessions.View(userID)
	st := view.State
	resp := checkoutResponse{
		Order: od,
		State: checkoutState{
			IsLoading:        st.IsLoading,
			IsProcessing:     st.IsProcessing,
			PaymentStatus:    string(st.PaymentStatus),
			Error:            st.Error,
			Warning:          st.Warning,
			ExpiresInSeconds: int64(st.CurrentPurchase.ExpiresIn(time.Now()) / time.Second),
		},
		Outcome: view.Outcome,
	}
	if p := st.CurrentPurchase; p != nil {
		pr := toPurchaseResponse(p)
		resp.State.Purchase = &pr
		if p.GatewayOrderID != nil {
			if opts, ok := s.deps.Bridge.Options(*p.GatewayOrderID); ok {
				resp.Widget = &opts
			}
		}
	}
	writeJSON(w, status, resp)
}
