package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"ai-reseller-checkout/internal/domain/ports/adapter"
)

var _ adapter.SignatureVerifier = (*HMACVerifier)(nil)

// HMACVerifier checks Razorpay signatures: checkout callbacks are signed with the key secret,
// webhooks with the separate webhook secret.
type HMACVerifier struct {
	keySecret     []byte
	webhookSecret []byte
}

func NewHMACVerifier(keySecret, webhookSecret string) *HMACVerifier {
	return &HMACVerifier{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// VerifyPayment checks hex(HMAC-SHA256(order_id + "|" + payment_id)).
func (v *HMACVerifier) VerifyPayment(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" || len(v.keySecret) == 0 {
		return false
	}
	return equalHex(Sign(v.keySecret, []byte(orderID+"|"+paymentID)), signature)
}

// VerifyWebhook checks hex(HMAC-SHA256(raw body)).
func (v *HMACVerifier) VerifyWebhook(body []byte, signature string) bool {
	if len(body) == 0 || signature == "" || len(v.webhookSecret) == 0 {
		return false
	}
	return equalHex(Sign(v.webhookSecret, body), signature)
}

// Sign returns the lowercase hex HMAC-SHA256 of msg.
func Sign(secret, msg []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}

func equalHex(want, got string) bool {
	return hmac.Equal([]byte(want), []byte(got))
}
