package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/client"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/node/config"
	"github.com/aster-network/aster/node/repo"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

type PrintHelpErr struct {
	Err error
	Ctx *cli.Context
}

func (e *PrintHelpErr) Error() string {
	return e.Err.Error()
}

func (e *PrintHelpErr) Unwrap() error {
	return e.Err
}

func (e *PrintHelpErr) Is(o error) bool {
	_, ok := o.(*PrintHelpErr)
	return ok
}

func ShowHelp(cctx *cli.Context, err error) error {
	return &PrintHelpErr{Err: err, Ctx: cctx}
}

func IncorrectNumArgs(cctx *cli.Context) error {
	return ShowHelp(cctx, fmt.Errorf("incorrect number of arguments, got %d", cctx.NArg()))
}

func RunApp(app *cli.App) {
	if err := app.Run(os.Args); err != nil {
		if os.Getenv("ASTER_DEV") != "" {
			log.Warnf("%+v", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		}
		var phe *PrintHelpErr
		if xerrors.As(err, &phe) {
			_ = cli.ShowCommandHelp(phe.Ctx, phe.Ctx.Command.Name)
		}
		os.Exit(1)
	}
}

// ReqContext returns context for cli execution. Calling it installs a
// signal handler that cancels the returned context on SIGTERM/SIGINT.
func ReqContext(cctx *cli.Context) context.Context {
	ctx, done := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	return ctx
}

func openRepo(cctx *cli.Context) (repo.LockedRepo, error) {
	r, err := repo.NewFS(cctx.String("repo"))
	if err != nil {
		return nil, err
	}

	ok, err := r.Exists()
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := r.Init(); err != nil {
			return nil, xerrors.Errorf("repo init error: %w", err)
		}
	}

	return r.Lock()
}

// openWallet is for commands that only touch local keys and balances;
// no libp2p host is brought up.
func openWallet(ctx context.Context, cctx *cli.Context) (*wallet.Wallet, func(), error) {
	lr, err := openRepo(cctx)
	if err != nil {
		return nil, nil, err
	}

	ks, err := lr.KeyStore()
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}
	mds, err := lr.Datastore("/metadata")
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}

	w, err := wallet.NewWallet(ctx, ks, mds)
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}

	return w, func() {
		if err := lr.Close(); err != nil {
			log.Warnf("closing repo: %s", err)
		}
	}, nil
}

// node bundles everything a command needs to talk to the network.
type node struct {
	repo   repo.LockedRepo
	wallet *wallet.Wallet
	client *client.Client
}

func setupNode(ctx context.Context, cctx *cli.Context) (*node, func(), error) {
	lr, err := openRepo(cctx)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := lr.Config()
	if err != nil {
		_ = lr.Close()
		return nil, nil, xerrors.Errorf("reading config: %w", err)
	}

	ks, err := lr.KeyStore()
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}
	mds, err := lr.Datastore("/metadata")
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}

	w, err := wallet.NewWallet(ctx, ks, mds)
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}

	h, ddht, err := setupHost(ctx, cfg, ks, mds)
	if err != nil {
		_ = lr.Close()
		return nil, nil, err
	}

	roots, err := parseRoots(cfg.Trust.TrustedRoots)
	if err != nil {
		_ = ddht.Close()
		_ = h.Close()
		_ = lr.Close()
		return nil, nil, err
	}
	if len(roots) == 0 {
		log.Warn("no trusted roots configured; spend verification will reject every lineage")
	}

	c, err := client.New(ctx, network.NewClient(h, ddht), w, mds, roots,
		client.WithPaymentConfig(paymentConfig(cfg)))
	if err != nil {
		_ = ddht.Close()
		_ = h.Close()
		_ = lr.Close()
		return nil, nil, xerrors.Errorf("assembling client: %w", err)
	}

	closer := func() {
		if err := c.Close(); err != nil {
			log.Warnf("shutting down client: %s", err)
		}
		_ = ddht.Close()
		_ = h.Close()
		if err := lr.Close(); err != nil {
			log.Warnf("closing repo: %s", err)
		}
	}
	return &node{repo: lr, wallet: w, client: c}, closer, nil
}

const KLibp2pHost = "libp2p-host"

// hostKey loads the libp2p identity from the keystore, minting and
// persisting one on first use.
func hostKey(ks types.KeyStore) (crypto.PrivKey, error) {
	ki, err := ks.Get(KLibp2pHost)
	if err == nil {
		return crypto.UnmarshalPrivateKey(ki.PrivateKey)
	}
	if !xerrors.Is(err, types.ErrKeyInfoNotFound) {
		return nil, err
	}

	pk, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	kbytes, err := crypto.MarshalPrivateKey(pk)
	if err != nil {
		return nil, err
	}
	if err := ks.Put(KLibp2pHost, types.KeyInfo{
		Type:       KLibp2pHost,
		PrivateKey: kbytes,
	}); err != nil {
		return nil, xerrors.Errorf("saving host key: %w", err)
	}
	return pk, nil
}

func setupHost(ctx context.Context, cfg *config.Client, ks types.KeyStore, mds datastore.Batching) (host.Host, *dht.IpfsDHT, error) {
	pk, err := hostKey(ks)
	if err != nil {
		return nil, nil, xerrors.Errorf("loading host key: %w", err)
	}

	cm, err := connmgr.NewConnManager(int(cfg.Libp2p.ConnMgrLow), int(cfg.Libp2p.ConnMgrHigh),
		connmgr.WithGracePeriod(time.Duration(cfg.Libp2p.ConnMgrGrace)))
	if err != nil {
		return nil, nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(pk),
		libp2p.ListenAddrStrings(cfg.Libp2p.ListenAddresses...),
		libp2p.ConnectionManager(cm),
		libp2p.Ping(true),
		libp2p.UserAgent("aster-"+build.UserVersion()),
	)
	if err != nil {
		return nil, nil, xerrors.Errorf("creating libp2p host: %w", err)
	}

	ddht, err := dht.New(ctx, h,
		dht.Mode(dht.ModeClient),
		dht.Datastore(namespace.Wrap(mds, datastore.NewKey("/dht"))),
		dht.ProtocolPrefix(network.DhtProtocolPrefix),
		dht.DisableProviders(),
		dht.DisableValues(),
	)
	if err != nil {
		_ = h.Close()
		return nil, nil, xerrors.Errorf("creating dht: %w", err)
	}

	closeAll := func() {
		_ = ddht.Close()
		_ = h.Close()
	}

	if len(cfg.Libp2p.BootstrapPeers) == 0 {
		log.Warn("no bootstrap peers configured; network operations will likely fail")
	}

	connected := 0
	for _, s := range cfg.Libp2p.BootstrapPeers {
		ai, err := peer.AddrInfoFromString(s)
		if err != nil {
			closeAll()
			return nil, nil, xerrors.Errorf("parsing bootstrap peer %q: %w", s, err)
		}
		if err := h.Connect(ctx, *ai); err != nil {
			log.Warnf("could not connect to bootstrap peer %s: %s", ai.ID, err)
			continue
		}
		connected++
	}
	if len(cfg.Libp2p.BootstrapPeers) > 0 && connected == 0 {
		closeAll()
		return nil, nil, xerrors.New("could not connect to any bootstrap peer")
	}

	if err := ddht.Bootstrap(ctx); err != nil {
		closeAll()
		return nil, nil, xerrors.Errorf("bootstrapping dht: %w", err)
	}

	return h, ddht, nil
}

func paymentConfig(cfg *config.Client) *payment.Config {
	return &payment.Config{
		MarginNum:        cfg.Payment.MarginNum,
		MarginDen:        cfg.Payment.MarginDen,
		TolerancePercent: cfg.Payment.TolerancePercent,
		NegotiateTimeout: time.Duration(cfg.Payment.NegotiateTimeout),
		RequestTimeout:   time.Duration(cfg.Payment.RequestTimeout),
	}
}

func parseRoots(strs []string) ([]cid.Cid, error) {
	roots := make([]cid.Cid, 0, len(strs))
	for _, s := range strs {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, xerrors.Errorf("parsing trusted root %q: %w", s, err)
		}
		roots = append(roots, c)
	}
	return roots, nil
}
