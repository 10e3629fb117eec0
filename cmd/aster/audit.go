package main

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var auditCmd = &cli.Command{
	Name:      "audit",
	Usage:     "Crawl a spend graph and verify every spend in it",
	ArgsUsage: "<spend-address>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "utxos",
			Usage: "also list the unspent outputs at the crawl frontier",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}

		root, err := cid.Decode(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing spend address: %w", err))
		}

		ctx := ReqContext(cctx)
		n, closer, err := setupNode(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		rep, err := n.client.SpendAudit(ctx, root)
		if err != nil {
			return xerrors.Errorf("audit failed: %w", err)
		}

		fmt.Printf("Root:         %s\n", rep.Root)
		fmt.Printf("Spends:       %d\n", rep.Spends)
		fmt.Printf("Transactions: %d\n", len(rep.Txs))
		fmt.Printf("UTXOs:        %d\n", len(rep.UTXOs))

		if cctx.Bool("utxos") {
			for _, u := range rep.UTXOs {
				fmt.Printf("  %s\n", u)
			}
		}

		if len(rep.Faults) > 0 {
			fmt.Printf("Faults:\n")
			for _, f := range rep.Faults {
				fmt.Printf("  %s\n", f)
			}
			return xerrors.Errorf("audit found %d faults", len(rep.Faults))
		}

		fmt.Println("No faults found")
		return nil
	},
}
