package render

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	number := "INV-202603-000001"
	invoice := invoicedomain.Invoice{
		ID:            1,
		InvoiceNumber: &number,
		Currency:      "usd",
		PeriodStart:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Subtotal:      1250,
		TaxAmount:     125,
		Total:         1375,
		Lines: []invoicedomain.LineItem{
			{Kind: invoicedomain.LineKindBase, Description: "Pro <monthly>", Quantity: 1, UnitPrice: 1250, Amount: 1250},
		},
		TaxLines: []invoicedomain.TaxLine{
			{TaxName: "GST", TaxRate: decimal.RequireFromString("0.1"), Amount: 125},
		},
	}

	out, err := NewRenderer().RenderHTML(invoice)
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, number)
	assert.Contains(t, html, "USD 13.75")
	assert.Contains(t, html, "GST (10%)")
	assert.Contains(t, html, "Pro &lt;monthly&gt;")
	assert.Contains(t, html, "2026-03-01 to 2026-04-01")
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "USD 0.05", FormatMoney(5, ""))
	assert.Equal(t, "EUR -12.30", FormatMoney(-1230, "eur"))
}
