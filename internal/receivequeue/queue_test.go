package receivequeue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

func TestPopServesFIFO(t *testing.T) {
	q := New()
	first := q.Push(1, time.Minute, nil)
	second := q.Push(2, time.Minute, nil)

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestFulfillCompletesWithItems(t *testing.T) {
	q := New()
	item := q.Push(5, time.Minute, nil)
	items := []amqplink.Delivery{amqplink.NewDelivery("t", nil, nil)}

	q.Fulfill(item, items)

	res := <-item.Done()
	assert.Equal(t, items, res.Items)
	assert.NoError(t, res.Err)
}

func TestTimeoutCompletesEmptyAndInvokesHook(t *testing.T) {
	q := New()
	hookCalled := make(chan struct{}, 1)
	item := q.Push(1, 10*time.Millisecond, func() { hookCalled <- struct{}{} })

	select {
	case res := <-item.Done():
		assert.Empty(t, res.Items)
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("item never completed on timeout")
	}

	select {
	case <-hookCalled:
	case <-time.After(time.Second):
		t.Fatal("afterTimeout hook was never invoked")
	}

	assert.Equal(t, 0, q.Len())
}

func TestPopStopsTheTimerSoTimeoutNeverFires(t *testing.T) {
	q := New()
	hookCalled := make(chan struct{}, 1)
	item := q.Push(1, 10*time.Millisecond, func() { hookCalled <- struct{}{} })

	_, ok := q.Pop()
	require.True(t, ok)
	q.Fulfill(item, nil)

	select {
	case <-hookCalled:
		t.Fatal("afterTimeout fired even though the item was popped first")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDrainAllCompletesEveryPendingItem(t *testing.T) {
	q := New()
	a := q.Push(1, time.Minute, nil)
	b := q.Push(1, time.Minute, nil)

	q.DrainAll(Result{Err: assertErr})

	ra := <-a.Done()
	rb := <-b.Done()
	assert.Equal(t, assertErr, ra.Err)
	assert.Equal(t, assertErr, rb.Err)
	assert.Equal(t, 0, q.Len())
}

var assertErr = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "drained" }
