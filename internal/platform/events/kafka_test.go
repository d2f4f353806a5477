package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessageCarriesHeadersAndKey(t *testing.T) {
	msg, err := toMessage(Event{
		Type:          LeaveBalanceChanged,
		AggregateType: "leave_balance",
		AggregateID:   "emp-1:annual",
		Payload:       map[string]string{"available": "5"},
	})
	require.NoError(t, err)

	assert.Equal(t, "emp-1:annual", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, LeaveBalanceChanged, string(msg.Headers[0].Value))
	assert.False(t, msg.Time.IsZero())

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "leave_balance", decoded.AggregateType)
}

func TestRecorderFiltersByType(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	_ = rec.Publish(ctx, Event{Type: LeaveBalanceChanged})
	_ = rec.Publish(ctx, Event{Type: PayrollRunTransition})
	_ = rec.Publish(ctx, Event{Type: LeaveBalanceChanged})

	assert.Len(t, rec.Events(), 3)
	assert.Len(t, rec.OfType(LeaveBalanceChanged), 2)
}
