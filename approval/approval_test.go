package approval

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r4-ndm/vaughan-gateway/types"
)

func testQueue(t *testing.T) (*Queue, *clock.TestClock) {
	t.Helper()
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	cfg := types.DefaultRequestConfig()
	cfg.MinSubmitInterval = 0
	return NewQueue(cfg, clk), clk
}

func TestResolveApproved(t *testing.T) {
	q, _ := testQueue(t)

	id, ch, err := q.Submit("w1", "https://dex.example", KindConnection, Payload{
		Connection: &ConnectionPayload{Origin: "https://dex.example"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	require.NoError(t, q.Resolve(id, true, []byte("proof")))

	res := <-ch
	assert.True(t, res.Approved)
	assert.Equal(t, []byte("proof"), res.AuthProof)
	assert.Nil(t, res.Err)
	assert.Equal(t, 0, q.Len())
}

func TestResolveRejected(t *testing.T) {
	q, _ := testQueue(t)

	id, ch, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)
	require.NoError(t, q.Resolve(id, false, nil))

	res := <-ch
	assert.False(t, res.Approved)
	require.NotNil(t, res.Err)
	assert.Equal(t, types.ErrCodeUserRejected, res.Err.Code)
}

func TestResolveIsOneShot(t *testing.T) {
	q, _ := testQueue(t)

	id, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)

	require.NoError(t, q.Resolve(id, true, nil))
	// the second resolution must not double-spend the approval
	err = q.Resolve(id, true, nil)
	require.Error(t, err)
	werr := types.AsWalletError(err)
	assert.Equal(t, types.ErrCodeInvalidParams, werr.Code)
}

func TestOutOfOrderResolution(t *testing.T) {
	q, _ := testQueue(t)

	id1, ch1, err := q.Submit("w1", "https://a.example", KindTransaction, Payload{})
	require.NoError(t, err)
	id2, ch2, err := q.Submit("w2", "https://b.example", KindSignature, Payload{})
	require.NoError(t, err)

	// the user may answer the newer request first
	require.NoError(t, q.Resolve(id2, true, nil))
	require.NoError(t, q.Resolve(id1, false, nil))

	res2 := <-ch2
	assert.True(t, res2.Approved)
	res1 := <-ch1
	assert.False(t, res1.Approved)
}

func TestPendingIsFIFO(t *testing.T) {
	q, _ := testQueue(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending := q.Pending()
	require.Len(t, pending, 3)
	for i, req := range pending {
		assert.Equal(t, ids[i], req.ID)
		assert.Equal(t, StatePending, req.State)
	}
}

func TestExpiry(t *testing.T) {
	q, clk := testQueue(t)

	_, ch, err := q.Submit("w1", "https://dex.example", KindSignature, Payload{})
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(5*time.Minute + time.Second))
	assert.Equal(t, 1, q.ExpireStale())

	res := <-ch
	require.NotNil(t, res.Err)
	assert.Equal(t, types.ErrCodeApprovalExpired, res.Err.Code)
	assert.Equal(t, 0, q.Len())
}

func TestExpiryLeavesFreshRequests(t *testing.T) {
	q, clk := testQueue(t)

	_, oldCh, err := q.Submit("w1", "https://a.example", KindTransaction, Payload{})
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(4 * time.Minute))
	freshID, _, err := q.Submit("w2", "https://b.example", KindTransaction, Payload{})
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(90 * time.Second))
	assert.Equal(t, 1, q.ExpireStale())

	res := <-oldCh
	assert.Equal(t, types.ErrCodeApprovalExpired, res.Err.Code)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, freshID, pending[0].ID)
}

func TestMaxPendingPerWindow(t *testing.T) {
	q, _ := testQueue(t)

	for i := 0; i < 10; i++ {
		_, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
		require.NoError(t, err)
	}
	_, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeRateLimited, types.AsWalletError(err).Code)

	// other windows are unaffected
	_, _, err = q.Submit("w2", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)
}

func TestMinSubmitInterval(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	q := NewQueue(types.DefaultRequestConfig(), clk)

	_, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)

	_, _, err = q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeRateLimited, types.AsWalletError(err).Code)

	clk.SetTime(clk.Now().Add(2 * time.Second))
	_, _, err = q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)
}

func TestMinSubmitIntervalPerKind(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	q := NewQueue(types.DefaultRequestConfig(), clk)

	_, _, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)

	// a different kind from the same window is not throttled
	_, _, err = q.Submit("w1", "https://dex.example", KindNetworkChange, Payload{})
	require.NoError(t, err)

	_, _, err = q.Submit("w1", "https://dex.example", KindNetworkChange, Payload{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeRateLimited, types.AsWalletError(err).Code)
}

func TestCancelForWindow(t *testing.T) {
	q, _ := testQueue(t)

	_, ch1, err := q.Submit("w1", "https://dex.example", KindTransaction, Payload{})
	require.NoError(t, err)
	_, ch2, err := q.Submit("w1", "https://dex.example", KindSignature, Payload{})
	require.NoError(t, err)
	keepID, _, err := q.Submit("w2", "https://other.example", KindConnection, Payload{})
	require.NoError(t, err)

	assert.Equal(t, 2, q.CancelForWindow("w1"))

	for _, ch := range []<-chan *Result{ch1, ch2} {
		res := <-ch
		require.NotNil(t, res.Err)
		assert.Equal(t, types.ErrCodeApprovalCancelled, res.Err.Code)
	}

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, keepID, pending[0].ID)
}

func TestGet(t *testing.T) {
	q, _ := testQueue(t)

	id, _, err := q.Submit("w1", "https://dex.example", KindConnection, Payload{
		Connection: &ConnectionPayload{Origin: "https://dex.example"},
	})
	require.NoError(t, err)

	req, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindConnection, req.Kind)
	assert.Equal(t, "https://dex.example", req.Origin)

	_, ok = q.Get("no-such-id")
	assert.False(t, ok)
}
