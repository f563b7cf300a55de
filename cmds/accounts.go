package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

var AccountCmds = &cli.Command{
	Name:        "account",
	Usage:       "account cmds",
	Subcommands: []*cli.Command{listAccountsCmd, createAccountCmd, importAccountCmd, removeAccountCmd, setActiveAccountCmd},
}

var listAccountsCmd = &cli.Command{
	Name:  "list",
	Usage: "list accounts",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		accounts, err := api.ListAccounts(cctx.Context)
		if err != nil {
			return err
		}
		accountBytes, err := json.MarshalIndent(accounts, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(accountBytes))
		return nil
	},
}

var createAccountCmd = &cli.Command{
	Name:      "create",
	Usage:     "create a seed-derived account",
	ArgsUsage: "name",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		account, err := api.CreateAccount(cctx.Context, cctx.Args().Get(0), wallet.KindSeedDerived)
		if err != nil {
			return err
		}
		fmt.Println(account.ID)
		return nil
	},
}

var importAccountCmd = &cli.Command{
	Name:      "import",
	Usage:     "import an account from key material",
	ArgsUsage: "name address key-material",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "chain", Usage: "chain family of the address", Value: "evm"},
	},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		account, err := api.ImportAccount(cctx.Context, cctx.Args().Get(0),
			chains.ChainType(cctx.String("chain")), cctx.Args().Get(1), cctx.Args().Get(2))
		if err != nil {
			return err
		}
		fmt.Println(account.ID)
		return nil
	},
}

var removeAccountCmd = &cli.Command{
	Name:      "remove",
	Usage:     "remove an account",
	ArgsUsage: "account-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RemoveAccount(cctx.Context, cctx.Args().Get(0))
	},
}

var setActiveAccountCmd = &cli.Command{
	Name:      "set-active",
	Usage:     "select the account offered to newly connecting dApps",
	ArgsUsage: "account-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.SetActiveAccount(cctx.Context, cctx.Args().Get(0))
	},
}
