package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
)

var NetworkCmds = &cli.Command{
	Name:        "network",
	Usage:       "network cmds",
	Subcommands: []*cli.Command{listNetworksCmd, addNetworkCmd, switchNetworkCmd, activeNetworkCmd},
}

var listNetworksCmd = &cli.Command{
	Name:  "list",
	Usage: "list known networks",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		networks, err := api.ListNetworks(cctx.Context)
		if err != nil {
			return err
		}
		networkBytes, err := json.MarshalIndent(networks, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(networkBytes))
		return nil
	},
}

var addNetworkCmd = &cli.Command{
	Name:      "add",
	Usage:     "add a custom network",
	ArgsUsage: "id name chain-id rpc-url",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "symbol", Usage: "native token symbol", Value: "ETH"},
		&cli.StringFlag{Name: "explorer", Usage: "block explorer url"},
	},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		var chainID uint64
		if _, err := fmt.Sscanf(cctx.Args().Get(2), "%d", &chainID); err != nil {
			return fmt.Errorf("chain-id must be a decimal number: %w", err)
		}

		return api.AddNetwork(cctx.Context, &netmgr.NetworkConfig{
			ID:           cctx.Args().Get(0),
			Name:         cctx.Args().Get(1),
			ChainType:    chains.ChainTypeEVM,
			ChainID:      chainID,
			RPCURL:       cctx.Args().Get(3),
			NativeSymbol: cctx.String("symbol"),
			NativeName:   cctx.String("symbol"),
			ExplorerURL:  cctx.String("explorer"),
		})
	},
}

var switchNetworkCmd = &cli.Command{
	Name:      "switch",
	Usage:     "switch the active network",
	ArgsUsage: "network-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.SwitchNetwork(cctx.Context, cctx.Args().Get(0))
	},
}

var activeNetworkCmd = &cli.Command{
	Name:  "active",
	Usage: "show the active network",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewWalletClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		network, err := api.ActiveNetwork(cctx.Context)
		if err != nil {
			return err
		}
		networkBytes, err := json.MarshalIndent(network, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(networkBytes))
		return nil
	},
}
