package credit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	mu     sync.Mutex
	grants []int32
	err    error
}

func (f *fakeIssuer) IssueCredit(n int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, n)
	return f.err
}

func (f *fakeIssuer) total() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int32
	for _, g := range f.grants {
		sum += g
	}
	return sum
}

func TestEnqueueDoesNotFlushBelowThreshold(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 100, false)

	require.NoError(t, c.Enqueue(10))
	require.NoError(t, c.Enqueue(20))

	assert.Empty(t, issuer.grants)
}

func TestEnqueueFlushesAtPrefetchWindow(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 30, false)

	require.NoError(t, c.Enqueue(30))

	assert.Equal(t, []int32{30}, issuer.grants)
}

func TestEnqueueFlushesAtChattinessCap(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 1000, false)

	require.NoError(t, c.Enqueue(100))

	assert.Equal(t, []int32{100}, issuer.grants)
}

func TestBrowsableNeverIssuesCredit(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 10, true)

	require.NoError(t, c.Enqueue(50))
	require.NoError(t, c.Flush())

	assert.Empty(t, issuer.grants)
}

func TestFlushForcesPendingCreditOut(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 100, false)

	require.NoError(t, c.Enqueue(5))
	assert.Empty(t, issuer.grants)

	require.NoError(t, c.Flush())
	assert.Equal(t, []int32{5}, issuer.grants)

	require.NoError(t, c.Flush())
	assert.Equal(t, []int32{5, 0}, issuer.grants)
}

func TestSetPrefetchCountSchedulesDeltaAdjustment(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 5, false)

	require.NoError(t, c.Enqueue(3))
	assert.Empty(t, issuer.grants)

	// growing the window by 195 pushes the accumulator (3 + 195 = 198)
	// past the 100-credit chattiness cap, forcing an immediate flush.
	require.NoError(t, c.SetPrefetchCount(200))
	assert.Equal(t, []int32{198}, issuer.grants)
	assert.Equal(t, int32(200), c.PrefetchCount())
}

func TestResetZeroesAccumulatorWithoutFlushing(t *testing.T) {
	issuer := &fakeIssuer{}
	c := New(issuer, 100, false)

	require.NoError(t, c.Enqueue(10))
	c.Reset()
	require.NoError(t, c.Flush())

	assert.Equal(t, []int32{0}, issuer.grants)
}
