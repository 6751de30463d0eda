package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEveryTypeHasNameAndCategory(t *testing.T) {
	seen := map[string]bool{}
	for _, typ := range All() {
		name := typ.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
		assert.NotZero(t, typ.Category(), name)

		parsed, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
}

func TestEventWireFormat(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	ev := New(TypeInvoicePaid, at, map[string]any{"invoice_id": "123"})

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ev.ID, decoded["id"])
	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	assert.Equal(t, "invoice.paid", decoded["type"])
	assert.Equal(t, "2026-01-15T12:00:00Z", decoded["createdAt"])
	assert.Equal(t, map[string]any{"invoice_id": "123"}, decoded["data"])

	var roundTrip Event
	require.NoError(t, json.Unmarshal(raw, &roundTrip))
	assert.Equal(t, TypeInvoicePaid, roundTrip.Type)
}

func TestMarshalInvalidType(t *testing.T) {
	_, err := json.Marshal(Event{Type: typeSentinel})
	assert.Error(t, err)
}

func TestBusContinuesAfterSubscriberFailure(t *testing.T) {
	var got []Type
	failing := SubscriberFunc(func(context.Context, Event) error { return errors.New("down") })
	recording := SubscriberFunc(func(_ context.Context, ev Event) error {
		got = append(got, ev.Type)
		return nil
	})

	bus := NewBus(zap.NewNop(), failing, recording)
	err := bus.Publish(context.Background(),
		New(TypeSubscriptionCanceled, time.Now(), nil),
		New(TypeInvoiceVoided, time.Now(), nil),
	)

	assert.Error(t, err)
	assert.Equal(t, []Type{TypeSubscriptionCanceled, TypeInvoiceVoided}, got)
}
