//go:build !integration

package payment

import (
	"io"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockRazorpayAPI struct {
	CreateOrderFunc   func(data map[string]interface{}) (map[string]interface{}, error)
	FetchPaymentFunc  func(id string) (map[string]interface{}, error)
	OrderPaymentsFunc func(orderID string) (map[string]interface{}, error)
	calls             int
}

func (m *mockRazorpayAPI) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	m.calls++
	return m.CreateOrderFunc(data)
}

func (m *mockRazorpayAPI) FetchPayment(id string) (map[string]interface{}, error) {
	m.calls++
	return m.FetchPaymentFunc(id)
}

func (m *mockRazorpayAPI) OrderPayments(orderID string) (map[string]interface{}, error) {
	m.calls++
	return m.OrderPaymentsFunc(orderID)
}
