package application

import (
	"errors"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/usecase"
)

type eventKind int

const (
	evReset eventKind = iota
	evCreateStarted
	evCreated
	evCreateFailed
	evProcessStarted
	evWidgetOpened
	evInitFailed
	evWidget
	evVerified
	evClosed
	evRefreshed
)

// event is one stimulus fed into the state machine. Events of an older generation are dropped.
type event struct {
	kind       eventKind
	gen        uint64
	purchaseID string
	purchase   *model.Purchase
	err        error
	msg        string
	warning    string
	widget     adapter.WidgetEvent
	session    *session
	verify     *usecase.VerifyResult
	ack        chan struct{}
}

type effectKind int

const (
	fxNotifySuccess effectKind = iota
	fxNotifyFailure
	fxNotifyCancel
	fxStartPolling
	fxStopPolling
	fxWatchWidget
	fxCloseWidget
	fxDiscardSession
	fxVerify
	fxRefresh
	fxClosePurchase
	fxClearCart
)

type effect struct {
	kind       effectKind
	purchaseID string
	purchase   *model.Purchase
	status     model.PaymentStatus
	msg        string
	userID     string
	session    *session
	payment    adapter.PaymentCallback
}

// machine is the loop-owned state. settled holds the purchase id whose terminal callback already fired.
type machine struct {
	State
	gen     uint64
	settled string
}

func (m machine) current(purchaseID string) bool {
	return m.CurrentPurchase != nil && m.CurrentPurchase.ID == purchaseID
}

// transition applies ev to m. It performs no I/O; everything observable happens through the returned effects.
func transition(m machine, ev event) (machine, []effect) {
	if ev.kind == evReset {
		return machine{gen: ev.gen}, []effect{{kind: fxStopPolling}, {kind: fxCloseWidget}}
	}
	if ev.gen != m.gen {
		if ev.kind == evWidgetOpened && ev.session != nil {
			return m, []effect{{kind: fxDiscardSession, session: ev.session}}
		}
		return m, nil
	}

	switch ev.kind {
	case evCreateStarted:
		m.IsLoading = true
		m.Error = ""
		m.Warning = ""

	case evCreateFailed:
		m.IsLoading = false
		m.Error = failureMessage(ev.err)

	case evCreated:
		m.IsLoading = false
		m.Error = ""
		m.Warning = ev.warning
		m.CurrentPurchase = ev.purchase
		m.PaymentStatus = ev.purchase.PaymentStatus
		return m, []effect{{kind: fxCloseWidget}, {kind: fxStartPolling, purchaseID: ev.purchase.ID}}

	case evProcessStarted:
		m.IsProcessing = true
		m.Error = ""

	case evWidgetOpened:
		m.CurrentPurchase = ev.purchase
		m.PaymentStatus = ev.purchase.PaymentStatus
		return m, []effect{
			{kind: fxWatchWidget, session: ev.session},
			{kind: fxStartPolling, purchaseID: ev.purchase.ID},
		}

	case evInitFailed:
		m.IsProcessing = false
		msg := failureMessage(ev.err)
		if ev.purchase != nil && ev.purchase.PaymentStatus.IsTerminal() {
			var fx []effect
			m, fx = settle(m, ev.purchase, msg)
			if m.PaymentStatus != model.PaymentStatusCompleted {
				m.Error = msg
			}
			return m, fx
		}
		m.Error = msg
		return m, []effect{{kind: fxNotifyFailure, msg: msg}}

	case evWidget:
		if !m.current(ev.purchaseID) || m.settled == ev.purchaseID {
			return m, nil
		}
		switch ev.widget.Kind {
		case adapter.WidgetCompleted:
			return m, []effect{{kind: fxVerify, purchaseID: ev.purchaseID, payment: ev.widget.Payment}}
		case adapter.WidgetDismissed:
			return m, []effect{{kind: fxClosePurchase, purchaseID: ev.purchaseID, status: model.PaymentStatusCancelled}}
		case adapter.WidgetFailed:
			msg := "payment failed"
			if ev.widget.Reason != "" {
				msg = "payment failed: " + ev.widget.Reason
			}
			return m, []effect{{kind: fxClosePurchase, purchaseID: ev.purchaseID, status: model.PaymentStatusFailed, msg: msg}}
		}

	case evVerified:
		if !m.current(ev.purchaseID) || m.settled == ev.purchaseID {
			return m, nil
		}
		if ev.err == nil && ev.verify != nil && ev.verify.Success {
			// completion is only ever read back from the store
			return m, []effect{{kind: fxRefresh, purchaseID: ev.purchaseID}}
		}
		msg := verifyMessage(ev.verify, ev.err)
		if ev.verify != nil && ev.verify.Purchase != nil && ev.verify.Purchase.PaymentStatus.IsTerminal() {
			return settle(m, ev.verify.Purchase, msg)
		}
		m.IsProcessing = false
		m.Error = msg
		return m, []effect{{kind: fxNotifyFailure, msg: msg}}

	case evClosed:
		if !m.current(ev.purchaseID) {
			return m, nil
		}
		if ev.err != nil {
			m.IsProcessing = false
			m.Error = failureMessage(ev.err)
			return m, nil
		}
		return settle(m, ev.purchase, ev.msg)

	case evRefreshed:
		if ev.purchase == nil || !m.current(ev.purchaseID) {
			return m, nil
		}
		return settle(m, ev.purchase, "")
	}
	return m, nil
}

// settle adopts the authoritative purchase and fires the terminal callback at most once per purchase.
func settle(m machine, p *model.Purchase, failMsg string) (machine, []effect) {
	m.CurrentPurchase = p
	m.PaymentStatus = p.PaymentStatus
	if !p.PaymentStatus.IsTerminal() || m.settled == p.ID {
		return m, nil
	}
	m.settled = p.ID
	m.IsProcessing = false

	fx := []effect{{kind: fxStopPolling}, {kind: fxCloseWidget}}
	switch p.PaymentStatus {
	case model.PaymentStatusCompleted:
		m.Error = ""
		fx = append(fx,
			effect{kind: fxClearCart, userID: p.UserID, purchaseID: p.ID},
			effect{kind: fxNotifySuccess, purchase: p},
		)
	case model.PaymentStatusFailed:
		if failMsg == "" {
			failMsg = "payment failed"
		}
		m.Error = failMsg
		fx = append(fx, effect{kind: fxNotifyFailure, msg: failMsg})
	case model.PaymentStatusCancelled:
		fx = append(fx, effect{kind: fxNotifyCancel})
	}
	return m, fx
}

func verifyMessage(res *usecase.VerifyResult, err error) string {
	if err != nil {
		return failureMessage(err)
	}
	if res != nil && res.Error != "" {
		return res.Error
	}
	return failureMessage(domain.ErrVerificationFailed)
}

// failureMessage is the user-facing text handed to OnFailure and State.Error.
func failureMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, s := range []error{
		domain.ErrAuthRequired, domain.ErrEmptyCart, domain.ErrGatewayUnavailable, domain.ErrInvalidOrderData,
		domain.ErrGatewayError, domain.ErrVerificationFailed, domain.ErrNotPayable, domain.ErrOrderExpired,
		domain.ErrNotFound, domain.ErrInvalidTransition, domain.ErrLockBusy, ErrClosed,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "checkout failed, please try again"
}
