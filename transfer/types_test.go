package transfer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brpix/wallet-engine/transfer"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestStatus_Transitions(t *testing.T) {
	// PENDING may settle either way; terminal states accept only their own
	// status (idempotent redelivery), never a change.
	cases := []struct {
		from, to transfer.Status
		allowed  bool
	}{
		{transfer.StatusPending, transfer.StatusPending, true},
		{transfer.StatusPending, transfer.StatusConfirmed, true},
		{transfer.StatusPending, transfer.StatusRejected, true},
		{transfer.StatusConfirmed, transfer.StatusConfirmed, true},
		{transfer.StatusConfirmed, transfer.StatusRejected, false},
		{transfer.StatusConfirmed, transfer.StatusPending, false},
		{transfer.StatusRejected, transfer.StatusRejected, true},
		{transfer.StatusRejected, transfer.StatusConfirmed, false},
		{transfer.StatusRejected, transfer.StatusPending, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, transfer.StatusPending.Terminal())
	assert.True(t, transfer.StatusConfirmed.Terminal())
	assert.True(t, transfer.StatusRejected.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, ok := transfer.ParseStatus("confirmed")
	assert.True(t, ok)
	assert.Equal(t, transfer.StatusConfirmed, st)

	_, ok = transfer.ParseStatus("EXPLODED")
	assert.False(t, ok)
}

func TestNewEndToEndID_Format(t *testing.T) {
	// The network correlation id is "E" plus 32 uppercase hex characters.
	id := transfer.NewEndToEndID()
	assert.Len(t, id, 33)
	assert.Equal(t, byte('E'), id[0])
	for _, c := range id[1:] {
		assert.Contains(t, "0123456789ABCDEF", string(c))
	}

	assert.NotEqual(t, id, transfer.NewEndToEndID(), "ids must be unique")
}
