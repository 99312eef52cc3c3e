package prefetch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

func TestPushRegistersTagByDefault(t *testing.T) {
	s := New()
	d := amqplink.NewDelivery("tag-1", []byte("hello"), nil)

	s.Push(d, true)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.RegisteredCount())
	got, ok := s.Lookup("tag-1")
	require.True(t, ok)
	if diff := cmp.Diff(d, got, cmp.AllowUnexported(amqplink.Delivery{})); diff != "" {
		t.Fatalf("delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestPushWithoutRegisteringLeavesRegistryEmpty(t *testing.T) {
	s := New()
	d := amqplink.NewDelivery("tag-2", []byte("x"), nil).WithSenderSettled()

	s.Push(d, false)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.RegisteredCount())
	_, ok := s.Lookup("tag-2")
	assert.False(t, ok)
}

func TestPollDrainsFIFOOrder(t *testing.T) {
	s := New()
	s.Push(amqplink.NewDelivery("a", nil, nil), true)
	s.Push(amqplink.NewDelivery("b", nil, nil), true)
	s.Push(amqplink.NewDelivery("c", nil, nil), true)

	items := s.Poll(2)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Message.Tag)
	assert.Equal(t, "b", items[1].Message.Tag)
	assert.Equal(t, 1, s.Len())

	// the registry is untouched by Poll; tags stay tracked until settled.
	assert.Equal(t, 3, s.RegisteredCount())
}

func TestPollClampsToAvailableLength(t *testing.T) {
	s := New()
	s.Push(amqplink.NewDelivery("only", nil, nil), true)

	items := s.Poll(10)
	assert.Len(t, items, 1)
	assert.Equal(t, 0, s.Len())
}

func TestForgetRemovesFromRegistryOnly(t *testing.T) {
	s := New()
	s.Push(amqplink.NewDelivery("tag", nil, nil), true)
	s.Poll(1)

	s.Forget("tag")

	_, ok := s.Lookup("tag")
	assert.False(t, ok)
}

func TestClearEmptiesBoth(t *testing.T) {
	s := New()
	s.Push(amqplink.NewDelivery("tag", nil, nil), true)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.RegisteredCount())
}
