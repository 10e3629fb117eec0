package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

var uploadCmd = &cli.Command{
	Name:      "upload",
	Usage:     "Store a file on the network",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "only print the chunk keys",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}
		path := cctx.Args().First()

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck

		st, err := f.Stat()
		if err != nil {
			return err
		}

		ctx := ReqContext(cctx)
		n, closer, err := setupNode(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		rep, err := n.client.Upload(ctx, f)
		if err != nil {
			return xerrors.Errorf("upload failed: %w", err)
		}

		if cctx.Bool("quiet") {
			for _, c := range rep.Chunks {
				fmt.Println(c.Key)
			}
		} else {
			fmt.Printf("Uploaded %s (%s) as %d chunks\n", path, humanize.IBytes(uint64(st.Size())), len(rep.Chunks))

			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "Chunk\tSize\tState\tCopies\n")
			for _, c := range rep.Chunks {
				state := c.State.String()
				if c.AlreadyStored {
					state = "already stored"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Key, humanize.IBytes(c.Size), state, c.Copies)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Printf("Paid %s AST across %d payments\n", types.AST(rep.TotalPaid), len(rep.Txs))
		}

		if !rep.Complete() {
			return xerrors.Errorf("%d of %d chunks did not reach full replication", rep.Partial+rep.Failed, len(rep.Chunks))
		}
		return nil
	},
}

var downloadCmd = &cli.Command{
	Name:      "download",
	Usage:     "Fetch chunks from the network and reassemble them into a file",
	ArgsUsage: "<output-path> <chunk-key>...",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() < 2 {
			return IncorrectNumArgs(cctx)
		}
		path := cctx.Args().First()

		keys := make([]cid.Cid, 0, cctx.NArg()-1)
		for _, s := range cctx.Args().Slice()[1:] {
			key, err := cid.Decode(s)
			if err != nil {
				return xerrors.Errorf("parsing chunk key %q: %w", s, err)
			}
			keys = append(keys, key)
		}

		ctx := ReqContext(cctx)
		n, closer, err := setupNode(ctx, cctx)
		if err != nil {
			return err
		}
		defer closer()

		f, err := os.Create(path)
		if err != nil {
			return err
		}

		if err := n.client.Download(ctx, keys, f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%s, %d chunks)\n", path, humanize.IBytes(uint64(st.Size())), len(keys))
		return nil
	},
}
