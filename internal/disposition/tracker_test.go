package disposition

import (
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

func TestTrackRejectsDuplicateTag(t *testing.T) {
	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)

	_, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(time.Minute))
	var already *ErrAlreadyPending
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "tag", already.Tag)
}

func TestResolveCompletesAndRemoves(t *testing.T) {
	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)
	item, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(time.Minute))
	require.NoError(t, err)

	tr.Resolve("tag", nil)

	assert.NoError(t, <-item.Done())
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.Get("tag")
	assert.False(t, ok)
}

func TestSweepFailsExpiredItemsWithLastError(t *testing.T) {
	defer leaktest.Check(t)()

	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)
	deadline := time.Now().Add(-time.Second)
	_, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, deadline)
	require.NoError(t, err)

	wantErr := errors.New("broker said no")
	tr.RecordError("tag", wantErr)

	item, ok := tr.Get("tag")
	require.True(t, ok)

	expired := tr.Sweep(time.Now())
	require.Len(t, expired, 1)
	assert.Same(t, item, expired[0])
	assert.Equal(t, wantErr, <-item.Done())
	assert.Equal(t, 0, tr.Len())
}

func TestSweepUsesGenericTimeoutWhenNoErrorRecorded(t *testing.T) {
	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)
	_, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(-time.Second))
	require.NoError(t, err)

	expired := tr.Sweep(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, ErrTimeout, <-expired[0].Done())
}

func TestSweepLeavesUnexpiredItemsAlone(t *testing.T) {
	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)
	_, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(time.Hour))
	require.NoError(t, err)

	expired := tr.Sweep(time.Now())
	assert.Empty(t, expired)
	assert.Equal(t, 1, tr.Len())
}

func TestDrainAllFailsEveryPendingItem(t *testing.T) {
	tr := New()
	d := amqplink.NewDelivery("tag", nil, nil)
	item, err := tr.Track("tag", amqplink.OutcomeAccepted, amqplink.Disposition{}, d, time.Now().Add(time.Minute))
	require.NoError(t, err)

	wantErr := errors.New("closed")
	tr.DrainAll(wantErr)

	assert.Equal(t, wantErr, <-item.Done())
	assert.Equal(t, 0, tr.Len())
}

func TestIncrementAttemptReturnsMinusOneForUnknownTag(t *testing.T) {
	tr := New()
	assert.Equal(t, -1, tr.IncrementAttempt("missing"))
}
