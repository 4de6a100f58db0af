//go:build !integration

package payment

import "testing"

func TestHMACVerifier_VerifyPayment(t *testing.T) {
	v := NewHMACVerifier("key_secret", "hook_secret")
	good := Sign([]byte("key_secret"), []byte("order_1|pay_1"))

	tests := []struct {
		name               string
		order, payment, sg string
		want               bool
	}{
		{"valid", "order_1", "pay_1", good, true},
		{"swapped ids", "pay_1", "order_1", good, false},
		{"other payment", "order_1", "pay_2", good, false},
		{"tampered", "order_1", "pay_1", good[:len(good)-1] + "0", false},
		{"empty signature", "order_1", "pay_1", "", false},
		{"signed with webhook secret", "order_1", "pay_1", Sign([]byte("hook_secret"), []byte("order_1|pay_1")), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.VerifyPayment(tc.order, tc.payment, tc.sg); got != tc.want {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHMACVerifier_VerifyWebhook(t *testing.T) {
	v := NewHMACVerifier("key_secret", "hook_secret")
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign([]byte("hook_secret"), body)

	if !v.VerifyWebhook(body, sig) {
		t.Fatal("expected valid webhook signature")
	}
	if v.VerifyWebhook([]byte(`{"event":"payment.failed"}`), sig) {
		t.Fatal("signature must bind the body")
	}
	if NewHMACVerifier("key_secret", "").VerifyWebhook(body, Sign(nil, body)) {
		t.Fatal("an unset webhook secret must reject everything")
	}
}
