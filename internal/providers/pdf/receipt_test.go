package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	r, err := New().GenerateReceipt(context.Background(), ReceiptData{
		StoreName:     "Storefront",
		OrderID:       "ORD-01HZX",
		PaymentID:     "pay_123",
		DatePaid:      "2025-03-01",
		Status:        "paid",
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		Items: []ReceiptItem{
			{Description: "Product A", Qty: 2, UnitPrice: "10.00", Amount: "20.00"},
			{Description: "Product B", Qty: 1, UnitPrice: "25.00", Amount: "25.00"},
		},
		Currency: "INR",
		Total:    "45.00",
	})
	require.NoError(t, err)

	doc, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(doc[:4]))
}
