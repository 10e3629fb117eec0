package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "Manage wallet keys",
	Subcommands: []*cli.Command{
		walletNew,
		walletList,
		walletBalance,
		walletDefault,
		walletSetDefault,
		walletExport,
		walletImport,
		walletDelete,
	},
}

var walletNew = &cli.Command{
	Name:      "new",
	Usage:     "Generate a new key of the given type",
	ArgsUsage: "[ed25519|bls (default ed25519)]",
	Action: func(cctx *cli.Context) error {
		ctx := ReqContext(cctx)

		t := cctx.Args().First()
		if t == "" {
			t = "ed25519"
		}
		st := wallet.SchemeSigType(types.KeyType(t))
		if st == 0 {
			return ShowHelp(cctx, xerrors.Errorf("unknown key type %q", t))
		}

		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		owner, err := w.GenerateKey(st)
		if err != nil {
			return err
		}

		fmt.Println(owner.String())
		return nil
	},
}

var walletList = &cli.Command{
	Name:  "list",
	Usage: "List wallet keys",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "addr-only",
			Aliases: []string{"a"},
			Usage:   "only print addresses",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := ReqContext(cctx)

		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		owners, err := w.ListOwners()
		if err != nil {
			return err
		}

		if cctx.Bool("addr-only") {
			for _, owner := range owners {
				fmt.Println(owner.String())
			}
			return nil
		}

		def, err := w.GetDefault()
		if err != nil && !xerrors.Is(err, types.ErrKeyInfoNotFound) {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "Address\tBalance\tDefault\n")
		for _, owner := range owners {
			d := ""
			if owner == def {
				d = "X"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", owner, types.AST(w.Balance(owner)), d)
		}
		return tw.Flush()
	},
}

var walletBalance = &cli.Command{
	Name:      "balance",
	Usage:     "Get the spendable balance of a key",
	ArgsUsage: "[address (default key if omitted)]",
	Action: func(cctx *cli.Context) error {
		ctx := ReqContext(cctx)

		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		var owner types.OwnerKey
		if cctx.NArg() >= 1 {
			owner, err = types.ParseOwnerKey(cctx.Args().First())
			if err != nil {
				return ShowHelp(cctx, err)
			}
		} else {
			owner, err = w.GetDefault()
			if err != nil {
				return xerrors.Errorf("resolving default key: %w", err)
			}
		}

		fmt.Printf("%s AST\n", types.AST(w.Balance(owner)))
		return nil
	},
}

var walletDefault = &cli.Command{
	Name:  "default",
	Usage: "Print the default wallet key",
	Action: func(cctx *cli.Context) error {
		ctx := ReqContext(cctx)

		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		def, err := w.GetDefault()
		if err != nil {
			return err
		}

		fmt.Println(def.String())
		return nil
	},
}

var walletSetDefault = &cli.Command{
	Name:      "set-default",
	Usage:     "Set the default key to use for payments",
	ArgsUsage: "<address>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}

		owner, err := types.ParseOwnerKey(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		ctx := ReqContext(cctx)
		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		return w.SetDefault(owner)
	},
}

var walletExport = &cli.Command{
	Name:      "export",
	Usage:     "Export a key as hex-encoded key info",
	ArgsUsage: "<address>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}

		owner, err := types.ParseOwnerKey(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		ctx := ReqContext(cctx)
		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		ki, err := w.Export(owner)
		if err != nil {
			return err
		}

		b, err := json.Marshal(ki)
		if err != nil {
			return err
		}

		fmt.Println(hex.EncodeToString(b))
		return nil
	},
}

var walletImport = &cli.Command{
	Name:      "import",
	Usage:     "Import a key from hex-encoded key info",
	ArgsUsage: "[<path> (stdin if omitted)]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "as-default",
			Usage: "import the key as the default key",
		},
	},
	Action: func(cctx *cli.Context) error {
		var data string
		if cctx.NArg() == 0 || cctx.Args().First() == "-" {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return xerrors.Errorf("reading key from stdin: %w", err)
			}
			data = line
		} else {
			b, err := os.ReadFile(cctx.Args().First())
			if err != nil {
				return err
			}
			data = string(b)
		}

		raw, err := hex.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return xerrors.Errorf("decoding hex: %w", err)
		}

		var ki types.KeyInfo
		if err := json.Unmarshal(raw, &ki); err != nil {
			return xerrors.Errorf("unmarshaling key info: %w", err)
		}

		ctx := ReqContext(cctx)
		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		owner, err := w.Import(&ki)
		if err != nil {
			return err
		}

		if cctx.Bool("as-default") {
			if err := w.SetDefault(owner); err != nil {
				return xerrors.Errorf("setting default key: %w", err)
			}
		}

		fmt.Printf("imported key %s successfully\n", owner)
		return nil
	},
}

var walletDelete = &cli.Command{
	Name:      "delete",
	Usage:     "Delete a key from the wallet",
	ArgsUsage: "<address>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}

		owner, err := types.ParseOwnerKey(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		ctx := ReqContext(cctx)
		w, closer, err := openWallet(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		return w.DeleteKey(owner)
	},
}
