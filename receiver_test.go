package gosbreceiver

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
	"github.com/Azure/go-sb-receiver/internal/receivertest"
)

func newTestReceiver(t *testing.T, opts ReceiverOptions) (*Receiver, *receivertest.Factory, *receivertest.MgmtOpener) {
	t.Helper()
	factory := &receivertest.Factory{}
	mgmtOpener := &receivertest.MgmtOpener{}
	r, err := newReceiver(context.Background(), factory, mgmtOpener, "entity1", opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, factory, mgmtOpener
}

func TestReceiveReturnsAlreadyBufferedMessage(t *testing.T) {
	r, factory, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})

	link := factory.Latest()
	link.Deliver("tag-1", []byte("hello"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := r.Receive(ctx, 5, time.Second)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hello"), msgs[0].Body)
}

func TestReceiveQueuesWhenNothingBuffered(t *testing.T) {
	r, factory, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})
	link := factory.Latest()

	resultCh := make(chan []*ReceivedMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msgs, err := r.Receive(context.Background(), 1, 5*time.Second)
		resultCh <- msgs
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let Receive register on the reactor
	link.Deliver("tag-2", []byte("world"))

	select {
	case msgs := <-resultCh:
		require.NoError(t, <-errCh)
		require.Len(t, msgs, 1)
		assert.Equal(t, []byte("world"), msgs[0].Body)
	case <-time.After(2 * time.Second):
		t.Fatal("receive never completed after a late delivery")
	}
}

func TestReceiveTimesOutWithEmptyResultNotError(t *testing.T) {
	r, _, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := r.Receive(ctx, 1, 30*time.Millisecond)

	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceiveRejectsOutOfRangeMaxMessages(t *testing.T) {
	r, _, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})

	_, err := r.Receive(context.Background(), 0, time.Second)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindInvalidArgument, apiErr.Kind)

	_, err = r.Receive(context.Background(), 11, time.Second)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindInvalidArgument, apiErr.Kind)
}

func TestCompleteMessageSucceedsOnMatchingOutcome(t *testing.T) {
	defer leaktest.Check(t)()
	r, factory, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10, SettleMode: SettleModeSecond})
	defer r.Close(context.Background())
	link := factory.Latest()
	link.Deliver("tag-3", []byte("payload"))

	msgs, err := r.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- r.CompleteMessage(context.Background(), msgs[0]) }()

	_, disp, ok := link.AwaitSettle(time.Second)
	require.True(t, ok)
	assert.Equal(t, amqplink.OutcomeAccepted, disp.Outcome)

	link.SettleOutcome("tag-3", amqplink.OutcomeAccepted, nil, nil)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("CompleteMessage never returned")
	}
}

func TestCompleteMessageTwiceFailsFast(t *testing.T) {
	r, factory, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})
	link := factory.Latest()
	link.Deliver("tag-4", []byte("payload"))

	msgs, err := r.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)

	go func() {
		link.AwaitSettle(time.Second)
		link.SettleOutcome("tag-4", amqplink.OutcomeAccepted, nil, nil)
	}()
	require.NoError(t, r.CompleteMessage(context.Background(), msgs[0]))

	err = r.CompleteMessage(context.Background(), msgs[0])
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindInvalidArgument, apiErr.Kind)
}

func TestDeadLetterMessageSendsRejectedOutcome(t *testing.T) {
	defer leaktest.Check(t)()
	r, factory, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})
	defer r.Close(context.Background())
	link := factory.Latest()
	link.Deliver("tag-5", []byte("bad"))

	msgs, err := r.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.DeadLetterMessage(context.Background(), msgs[0], "poison", "could not process", nil)
	}()

	_, disp, ok := link.AwaitSettle(time.Second)
	require.True(t, ok)
	require.Equal(t, amqplink.OutcomeRejected, disp.Outcome)
	assert.Equal(t, "poison", disp.Reject.Info["DeadLetterReason"])

	link.SettleOutcome("tag-5", amqplink.OutcomeRejected, disp.Reject, nil)
	require.NoError(t, <-errCh)
}

func TestCloseDrainsPendingReceivesEmpty(t *testing.T) {
	r, _, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})

	resultCh := make(chan []*ReceivedMessage, 1)
	go func() {
		msgs, _ := r.Receive(context.Background(), 1, 10*time.Second)
		resultCh <- msgs
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Close(context.Background()))

	select {
	case msgs := <-resultCh:
		assert.Empty(t, msgs)
	case <-time.After(time.Second):
		t.Fatal("pending receive was never drained by Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, _, _ := newTestReceiver(t, ReceiverOptions{PrefetchCount: 10})

	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))
}

func TestSessionReceiverCapturesConfirmedSessionID(t *testing.T) {
	factory := &receivertest.Factory{}
	mgmtOpener := &receivertest.MgmtOpener{}
	opts := SessionReceiverOptions{
		ReceiverOptions: ReceiverOptions{PrefetchCount: 10},
		SessionID:       "session-42",
	}
	r, err := newReceiver(context.Background(), factory, mgmtOpener, "entity1", opts.ReceiverOptions, &opts)
	require.NoError(t, err)
	defer r.Close(context.Background())

	assert.Equal(t, "session-42", r.manager.Session().SessionID())
}

func TestSessionFilterMissingFailsOpen(t *testing.T) {
	factory := &receivertest.Factory{
		SessionFilterEcho: func(string) (string, bool) { return "", false },
	}
	mgmtOpener := &receivertest.MgmtOpener{}
	opts := SessionReceiverOptions{ReceiverOptions: ReceiverOptions{PrefetchCount: 10}}

	_, err := newReceiver(context.Background(), factory, mgmtOpener, "entity1", opts.ReceiverOptions, &opts)
	var missing *amqplink.SessionFilterMissingError
	require.ErrorAs(t, err, &missing)
}
