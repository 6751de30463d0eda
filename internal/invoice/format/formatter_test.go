package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		template string
		seq      int64
		want     string
	}{
		{DefaultInvoiceNumberTemplate, 42, "INV-202603-000042"},
		{"{YY}{MM}{DD}/{SEQ}", 7, "260309/7"},
		{"BC-{SEQ3}", 12345, "BC-12345"},
	}
	for _, tt := range tests {
		got, err := InvoiceNumber(tt.template, issued, tt.seq)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestInvoiceNumberRejectsBadInput(t *testing.T) {
	issued := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	_, err := InvoiceNumber("", issued, 1)
	assert.Error(t, err)
	_, err = InvoiceNumber(DefaultInvoiceNumberTemplate, issued, 0)
	assert.Error(t, err)
	_, err = InvoiceNumber("INV-{UNKNOWN}", issued, 1)
	assert.Error(t, err)
}
