package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Pay tokens to another wallet",
	ArgsUsage: "<recipient> <amount>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return IncorrectNumArgs(cctx)
		}

		recipient, err := types.ParseOwnerKey(cctx.Args().Get(0))
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing recipient key: %w", err))
		}

		ast, err := types.ParseAST(cctx.Args().Get(1))
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing amount: %w", err))
		}
		amount := types.BigInt(ast)

		ctx := ReqContext(cctx)
		n, closer, err := setupNode(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		transfer, err := n.client.Send(ctx, recipient, amount)
		if err != nil {
			return xerrors.Errorf("send failed: %w", err)
		}

		note, err := transfer.Encode()
		if err != nil {
			return err
		}

		fmt.Printf("Sent %s AST in transaction %s\n", ast, transfer.Tx)
		fmt.Printf("Give this note to the recipient so they can claim the funds:\n\n%s\n", note)
		return nil
	},
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Claim tokens from a transfer note",
	ArgsUsage: "[<note>]",
	Description: `Verifies a transfer note produced by 'aster send' against the network
and records the received outputs in the local wallet. Reads the note
from stdin when no argument is given.`,
	Action: func(cctx *cli.Context) error {
		var note string
		switch cctx.NArg() {
		case 0:
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return xerrors.Errorf("reading transfer note from stdin: %w", err)
			}
			note = strings.TrimSpace(line)
		case 1:
			note = cctx.Args().First()
		default:
			return IncorrectNumArgs(cctx)
		}
		if note == "" {
			return ShowHelp(cctx, xerrors.New("empty transfer note"))
		}

		ctx := ReqContext(cctx)
		n, closer, err := setupNode(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		amount, err := n.client.Receive(ctx, note)
		if err != nil {
			return xerrors.Errorf("receive failed: %w", err)
		}

		fmt.Printf("Received %s AST\n", types.AST(amount))
		return nil
	},
}
