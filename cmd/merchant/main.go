// Command merchant is the zkChannels merchant daemon and its own CLI
// client. Structurally the mirror of cmd/customer: the default action
// starts the daemon (session listener, control-plane listener, no
// watcher -- the merchant has nothing to poll for, spec.md §4.G is
// entirely the customer's responsibility), every named subcommand dials
// an already-running instance.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"golang.org/x/time/rate"

	"github.com/boltlabs-inc/zeekoe/config"
	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/log"
	"github.com/boltlabs-inc/zeekoe/protocol/close"
	"github.com/boltlabs-inc/zeekoe/protocol/establish"
	"github.com/boltlabs-inc/zeekoe/protocol/parameters"
	"github.com/boltlabs-inc/zeekoe/protocol/pay"
	"github.com/boltlabs-inc/zeekoe/rpc"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/version"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[merchant] %v\n", err)
	os.Exit(1)
}

func getClient(ctx *cli.Context) (*rpc.MerchantClient, func()) {
	client, err := rpc.DialMerchant(ctx.GlobalString("rpcserver"))
	if err != nil {
		fatal(err)
	}
	return client, func() { client.Close() }
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(b))
}

func main() {
	app := cli.NewApp()
	app.Name = "merchant"
	app.Usage = "zkChannels merchant daemon and control client"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "datadir", Value: "", Usage: "directory to store channel state"},
		cli.StringFlag{Name: "rpcserver", Value: "localhost:10010", Usage: "host:port of a running merchant daemon"},
	}
	app.Commands = []cli.Command{getInfoCommand, listCommand}
	app.Action = runDaemon

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var getInfoCommand = cli.Command{
	Name:  "getinfo",
	Usage: "returns basic information about the running daemon",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()
		resp, err := client.GetInfo(context.Background())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "lists every channel this daemon knows about",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()
		resp, err := client.ListChannels(context.Background())
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Channel ID", "Status", "Customer Balance", "Merchant Balance"})
		for _, c := range resp.Channels {
			t.AppendRow(table.Row{c.ChannelID, c.Status, c.CustomerBalance, c.MerchantBalance})
		}
		t.Render()
		return nil
	},
}

// runDaemon starts both listeners: the session transport customers dial
// (spec.md §4.B) and the local control plane this binary's own
// getinfo/list subcommands dial.
func runDaemon(ctx *cli.Context) error {
	dataDir := ctx.GlobalString("datadir")
	if dataDir == "" {
		dataDir = "merchant-data"
	}

	cfg, err := config.LoadMerchant(dataDir, os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println(version.String())
		return nil
	}

	log.SetLevel(cfg.Log.Level)
	if err := log.InitLogRotator(
		filepath.Join(cfg.Log.Dir, "merchant.log"), cfg.Log.MaxLogFileSize, cfg.Log.MaxLogFiles,
	); err != nil {
		return err
	}

	merchantStore := store.NewMockMerchantStore()
	driver := contract.NewMockDriver()
	zkCtx := zkabacus.DefaultContext()

	merchantCfg, err := merchantStore.FetchOrCreateConfig(context.Background(), func() (store.MerchantConfig, error) {
		zkabacusCfg, err := zkabacus.NewMerchantConfig()
		if err != nil {
			return store.MerchantConfig{}, err
		}
		return store.MerchantConfig{
			SigningPublicKey: zkabacusCfg.MerchantPublicKey,
			CommitmentParams: zkabacusCfg.CommitmentParams,
			RangeProofParams: zkabacusCfg.RangeProofParams,
		}, nil
	})
	if err != nil {
		return err
	}
	zkCfg := zkabacus.Config{
		MerchantPublicKey: merchantCfg.SigningPublicKey,
		CommitmentParams:  merchantCfg.CommitmentParams,
		RangeProofParams:  merchantCfg.RangeProofParams,
	}
	merchant := zkabacus.NewMerchant(zkCfg)

	tlsConfig, err := session.LoadOrCreateServerTLS(cfg.Listen.TLSCertPath, cfg.Listen.TLSKeyPath, "localhost")
	if err != nil {
		return err
	}
	listener, err := tls.Listen("tcp", cfg.Listen.Address, tlsConfig)
	if err != nil {
		return err
	}

	timeouts, err := cfg.Timeout.Parse()
	if err != nil {
		return err
	}

	resumption := session.NewInMemoryResumptionStore()

	// approveLimiter rate-limits the default policy hooks below so an
	// unexpectedly chatty customer can't burn unbounded merchant CPU on
	// approval decisions; a real deployment would swap these defaults for
	// its own blocklist/minimum-deposit logic.
	approveLimiter := rate.NewLimiter(rate.Limit(50), 10)
	approveEstablish := func(req establish.CustomerRequest) error {
		if !approveLimiter.Allow() {
			return fmt.Errorf("merchant: approval rate limit exceeded")
		}
		return nil
	}
	approvePay := func(zkchannel.ID, zkchannel.PaymentAmount, zkchannel.Note) error {
		if !approveLimiter.Allow() {
			return fmt.Errorf("merchant: approval rate limit exceeded")
		}
		return nil
	}

	parametersDeps := parametersConfig{
		cfg:           zkCfg,
		ledgerPubkey:  merchantCfg.LedgerPublicKey,
		fundingAddr:   "tz1merchant",
		addressPrefix: "tz1",
	}
	establishDeps := establish.MerchantDeps{
		Store:            merchantStore,
		Contract:         driver,
		ZkCtx:            zkCtx,
		Merchant:         merchant,
		ExpectedCodeHash: [32]byte{},
		SelfDelay:        cfg.SelfDelay,
		ApprovalTimeout:  timeouts.Approval,
		Approve:          approveEstablish,
	}
	payDeps := pay.MerchantDeps{
		Store: merchantStore, ZkCtx: zkCtx, Merchant: merchant, MaxNote: cfg.MaxNoteLength,
		ApprovalTimeout: timeouts.Approval,
		Approve:         approvePay,
	}
	closeDeps := close.MerchantDeps{Store: merchantStore, Contract: driver}

	go acceptSessions(listener, resumption, timeouts, parametersDeps, establishDeps, payDeps, closeDeps)

	grpcServer := rpc.NewGRPCServer()
	rpc.RegisterMerchantService(grpcServer, &rpc.MerchantServer{Store: merchantStore})
	rpc.EnableMetrics(grpcServer)

	if cfg.RPC.MetricsAddress != "" {
		go func() {
			log.MerchantLog.Infof("metrics listening on %s", cfg.RPC.MetricsAddress)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.RPC.MetricsAddress, mux); err != nil {
				log.MerchantLog.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	rpcListener, err := net.Listen("tcp", cfg.RPC.Address)
	if err != nil {
		return err
	}
	go func() {
		log.MerchantLog.Infof("control plane listening on %s", cfg.RPC.Address)
		if err := grpcServer.Serve(rpcListener); err != nil {
			log.MerchantLog.Errorf("grpc server stopped: %v", err)
		}
	}()

	log.MerchantLog.Infof("session transport listening on %s", cfg.Listen.Address)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	grpcServer.GracefulStop()
	return listener.Close()
}

// parametersConfig bundles what dispatchSession needs to answer a
// Parameters session; parameters.RunMerchant takes these as plain
// arguments rather than a deps struct, so the daemon keeps its own copy.
type parametersConfig struct {
	cfg           zkabacus.Config
	ledgerPubkey  []byte
	fundingAddr   string
	addressPrefix string
}

// acceptSessions is the merchant's connection-accept loop, one goroutine
// per connection. Grounded on peer.go's newPeer-per-accepted-conn pattern:
// a failure on any one connection never affects its siblings.
func acceptSessions(listener net.Listener, resumption session.ResumptionStore, timeouts session.Timeouts,
	params parametersConfig, establishDeps establish.MerchantDeps, payDeps pay.MerchantDeps, closeDeps close.MerchantDeps) {

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.SessionLog.Errorf("accept: %v", err)
			return
		}
		go func() {
			s := session.NewSession(conn, 1<<20)
			s.SetTimeouts(timeouts)
			if _, err := s.ServerHandshake(resumption); err != nil {
				log.SessionLog.Errorf("handshake: %v", err)
				s.Close()
				return
			}
			if err := dispatchSession(s, params, establishDeps, payDeps, closeDeps); err != nil {
				log.SessionLog.Errorf("session: %v", err)
			}
		}()
	}
}

func dispatchSession(s *session.Session, params parametersConfig,
	establishDeps establish.MerchantDeps, payDeps pay.MerchantDeps, closeDeps close.MerchantDeps) error {

	choice, err := s.OfferTopLevel()
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch choice {
	case session.ChoiceParameters:
		return parameters.RunMerchant(s, params.cfg, params.ledgerPubkey, params.fundingAddr, params.addressPrefix)
	case session.ChoiceEstablish:
		_, err := establish.RunMerchant(ctx, s, establishDeps)
		return err
	case session.ChoicePay:
		return pay.RunMerchant(ctx, s, payDeps)
	case session.ChoiceClose:
		return close.RunMerchantMutualClose(ctx, s, closeDeps)
	default:
		return fmt.Errorf("merchant: unknown top-level choice %d", choice)
	}
}
