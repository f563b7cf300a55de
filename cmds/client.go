package cmds

import (
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/urfave/cli/v2"

	"github.com/r4-ndm/vaughan-gateway/api"
)

// NewWalletClient dials the daemon's control endpoint using the global
// listen flag.
func NewWalletClient(cctx *cli.Context) (*api.WalletAPIStruct, jsonrpc.ClientCloser, error) {
	return api.NewWalletClient(cctx.Context, cctx.String("listen"))
}
