package mgmtlink_test

import (
	"context"
	"testing"
	"time"

	amqp "github.com/Azure/go-amqp"
	"github.com/Azure/azure-amqp-common-go/v3/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/go-sb-receiver/internal/mgmtlink"
	"github.com/Azure/go-sb-receiver/internal/receivertest"
	"github.com/Azure/go-sb-receiver/internal/ticks"
)

func TestRenewLocksDecodesExpirations(t *testing.T) {
	opener := &receivertest.MgmtOpener{}
	want := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	opener.Link().Responses["com.microsoft:renew-lock"] = &rpc.Response{
		Code: 200,
		Message: &amqp.Message{
			Value: map[string]any{"expirations": []int64{ticks.FromTime(want)}},
		},
	}
	client := mgmtlink.New(opener)

	exps, err := client.RenewLocks(context.Background(), "", []string{"lock-1"})
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, 2030, exps[0].Year())
}

func TestDoSurfacesStatusError(t *testing.T) {
	opener := &receivertest.MgmtOpener{}
	opener.Link().Responses["com.microsoft:renew-session-lock"] = &rpc.Response{
		Code:        404,
		Description: "session not found",
	}
	client := mgmtlink.New(opener)

	_, err := client.RenewSessionLock(context.Background(), "missing-session")
	require.Error(t, err)
	var statusErr *mgmtlink.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Code)
}

func TestUpdateDispositionByLockTokensSendsDeadLetterFields(t *testing.T) {
	opener := &receivertest.MgmtOpener{}
	client := mgmtlink.New(opener)

	err := client.UpdateDispositionByLockTokens(context.Background(), []string{"lock-1"}, mgmtlink.DispositionDeadLetter, mgmtlink.UpdateDispositionParams{
		DeadLetterReason:      "too old",
		DeadLetterDescription: "exceeded max delivery count",
	})
	require.NoError(t, err)

	reqs := opener.Link().Requests
	require.Len(t, reqs, 1)
	assert.Equal(t, "too old", reqs[0].Value.(map[string]any)["dead-letter-reason"])
}

func TestClientClosesUnderlyingLinkOnlyIfOpened(t *testing.T) {
	opener := &receivertest.MgmtOpener{}
	client := mgmtlink.New(opener)

	require.NoError(t, client.Close(context.Background()))
	assert.False(t, opener.Opened())

	_, _ = client.RenewSessionLock(context.Background(), "s1")
	require.NoError(t, client.Close(context.Background()))
	assert.True(t, opener.Link().Closed())
}
