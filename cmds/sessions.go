package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

var SessionCmds = &cli.Command{
	Name:        "session",
	Usage:       "dApp session cmds",
	Subcommands: []*cli.Command{listSessionsCmd, revokeSessionCmd},
}

var listSessionsCmd = &cli.Command{
	Name:  "list",
	Usage: "list connected dApp sessions",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		sessions, err := api.ListSessions(cctx.Context)
		if err != nil {
			return err
		}
		sessionBytes, err := json.MarshalIndent(sessions, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(sessionBytes))
		return nil
	},
}

var revokeSessionCmd = &cli.Command{
	Name:      "revoke",
	Usage:     "disconnect a dApp window and cancel its pending approvals",
	ArgsUsage: "window-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RevokeSession(cctx.Context, cctx.Args().Get(0))
	},
}
