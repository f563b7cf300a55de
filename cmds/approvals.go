package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

var ApprovalCmds = &cli.Command{
	Name:        "approval",
	Usage:       "approval queue cmds",
	Subcommands: []*cli.Command{listApprovalsCmd, approveCmd, rejectCmd},
}

var listApprovalsCmd = &cli.Command{
	Name:  "list",
	Usage: "list pending approval requests",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		pending, err := api.ListPendingApprovals(cctx.Context)
		if err != nil {
			return err
		}
		pendingBytes, err := json.MarshalIndent(pending, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(pendingBytes))
		return nil
	},
}

var approveCmd = &cli.Command{
	Name:      "approve",
	Usage:     "approve a pending request",
	ArgsUsage: "request-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.ResolveApproval(cctx.Context, cctx.Args().Get(0), true)
	},
}

var rejectCmd = &cli.Command{
	Name:      "reject",
	Usage:     "reject a pending request",
	ArgsUsage: "request-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.ResolveApproval(cctx.Context, cctx.Args().Get(0), false)
	},
}
