package render

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{number .Invoice}}</title>
  <style>
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #fff; max-width: 760px; margin: 0 auto; padding: 48px; border-radius: 4px; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; }
    table { width: 100%; border-collapse: collapse; margin: 24px 0; }
    th { text-align: left; font-size: 11px; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 8px 0; }
    td { padding: 12px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; }
    .right { text-align: right; }
    .kind { font-size: 11px; color: #697386; }
    .total { font-weight: 700; }
  </style>
</head>
<body>
  <div class="card">
    <h1>{{.CompanyName}}</h1>
    <div class="label">Invoice number</div>
    <div>{{number .Invoice}}</div>
    <div class="label">Billing period</div>
    <div>{{formatDate .Invoice.PeriodStart}} to {{formatDate .Invoice.PeriodEnd}}</div>
    {{if .Invoice.DueDate}}<div class="label">Due</div><div>{{formatDate .Invoice.DueDate}}</div>{{end}}
    <table>
      <thead>
        <tr><th>Description</th><th class="right">Qty</th><th class="right">Unit price</th><th class="right">Amount</th></tr>
      </thead>
      <tbody>
        {{range .Invoice.Lines}}
        <tr>
          <td>{{.Description}}<div class="kind">{{.Kind}}</div></td>
          <td class="right">{{.Quantity}}</td>
          <td class="right">{{formatMoney .UnitPrice $.Invoice.Currency}}</td>
          <td class="right">{{formatMoney .Amount $.Invoice.Currency}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    <table>
      <tr><td>Subtotal</td><td class="right">{{formatMoney .Invoice.Subtotal .Invoice.Currency}}</td></tr>
      {{range .Invoice.TaxLines}}
      <tr><td>{{.TaxName}} ({{percent .TaxRate}}{{if $.Invoice.TaxInclusive}}, included{{end}})</td><td class="right">{{formatMoney .Amount $.Invoice.Currency}}</td></tr>
      {{end}}
      <tr class="total"><td>Total</td><td class="right">{{formatMoney .Invoice.Total .Invoice.Currency}}</td></tr>
      <tr><td>Paid</td><td class="right">{{formatMoney .Invoice.PaidAmount .Invoice.Currency}}</td></tr>
      <tr class="total"><td>Amount due</td><td class="right">{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</td></tr>
    </table>
  </div>
</body>
</html>
`

// Renderer turns an invoice with its lines into a standalone HTML page.
type Renderer interface {
	RenderHTML(invoice invoicedomain.Invoice) ([]byte, error)
}

type HTMLRenderer struct {
	tpl         *template.Template
	companyName string
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney": FormatMoney,
		"formatDate":  formatDate,
		"number":      number,
		"percent":     percent,
	}
	return &HTMLRenderer{
		tpl:         template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
		companyName: "Invoice",
	}
}

func (r *HTMLRenderer) RenderHTML(invoice invoicedomain.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	err := r.tpl.Execute(&buf, struct {
		CompanyName string
		Invoice     invoicedomain.Invoice
	}{r.companyName, invoice})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatMoney renders minor units as "USD 12.34".
func FormatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return currency + " " + decimal.New(amount, -2).StringFixed(2)
}

func formatDate(value any) string {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return v.UTC().Format("2006-01-02")
	case *time.Time:
		if v == nil || v.IsZero() {
			return "-"
		}
		return v.UTC().Format("2006-01-02")
	}
	return "-"
}

func number(invoice invoicedomain.Invoice) string {
	if invoice.InvoiceNumber != nil {
		return *invoice.InvoiceNumber
	}
	return "DRAFT-" + invoice.ID.String()
}

func percent(rate decimal.Decimal) string {
	return rate.Shift(2).String() + "%"
}
