package main

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/gateway"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/ratelimit"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/testhelper"
	"github.com/r4-ndm/vaughan-gateway/transport"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

func newTestAPI(t *testing.T) (*WalletAPI, *approval.Queue) {
	t.Helper()

	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	persister := testhelper.NewMemPersister()

	accounts, err := wallet.NewStore(persister)
	require.NoError(t, err)
	networks, err := netmgr.NewRegistry(func(cfg *netmgr.NetworkConfig) (chains.Adapter, error) {
		return testhelper.NewFakeAdapter(cfg.ChainID), nil
	}, nil)
	require.NoError(t, err)

	sessions := session.NewRegistry(24*time.Hour, clk)
	cfg := types.DefaultRequestConfig()
	cfg.MinSubmitInterval = 0
	approvals := approval.NewQueue(cfg, clk)

	gw, err := gateway.New(sessions, approvals, ratelimit.NewLimiter(clk),
		networks, accounts, testhelper.NewMemSink(), persister)
	require.NoError(t, err)

	return NewWalletAPI(gw, accounts, networks, transport.NewServer(0, 0)), approvals
}

func TestResolveApprovalDoubleResolveIsNoOp(t *testing.T) {
	api, approvals := newTestAPI(t)
	ctx := context.Background()

	id, ch, err := approvals.Submit("w1", "https://dex.example", approval.KindConnection, approval.Payload{
		Connection: &approval.ConnectionPayload{Origin: "https://dex.example"},
	})
	require.NoError(t, err)

	require.NoError(t, api.ResolveApproval(ctx, id, true))
	res := <-ch
	assert.True(t, res.Approved)

	// a double click in the UI must not surface an error, and must not
	// flip the outcome
	require.NoError(t, api.ResolveApproval(ctx, id, true))
	require.NoError(t, api.ResolveApproval(ctx, id, false))
	assert.Equal(t, 0, approvals.Len())

	// unknown ids are equally benign
	require.NoError(t, api.ResolveApproval(ctx, "no-such-id", false))
}

func TestResolveApprovalReject(t *testing.T) {
	api, approvals := newTestAPI(t)

	id, ch, err := approvals.Submit("w1", "https://dex.example", approval.KindTransaction, approval.Payload{})
	require.NoError(t, err)

	require.NoError(t, api.ResolveApproval(context.Background(), id, false))
	res := <-ch
	assert.False(t, res.Approved)
	require.NotNil(t, res.Err)
	assert.Equal(t, types.ErrCodeUserRejected, res.Err.Code)
}
