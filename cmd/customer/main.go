// Command customer is the zkChannels customer daemon and its own CLI
// client, modeled on lnd.go/cmd_lncli's split between a long-running
// daemon and a urfave/cli control surface, collapsed into one binary: the
// default action starts the daemon, every named subcommand instead dials
// an already-running instance's control-plane listener.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/boltlabs-inc/zeekoe/config"
	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/log"
	"github.com/boltlabs-inc/zeekoe/rpc"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/version"
	"github.com/boltlabs-inc/zeekoe/watcher"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[customer] %v\n", err)
	os.Exit(1)
}

func getClient(ctx *cli.Context) (*rpc.CustomerClient, func()) {
	client, err := rpc.DialCustomer(ctx.GlobalString("rpcserver"))
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
	app.Name = "customer"
	app.Usage = "zkChannels customer daemon and control client"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "datadir", Value: "", Usage: "directory to store channel state"},
		cli.StringFlag{Name: "rpcserver", Value: "localhost:10009", Usage: "host:port of a running customer daemon"},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		listCommand,
		establishCommand,
		payCommand,
		closeCommand,
	}
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
		t.AppendHeader(table.Row{"Label", "Channel ID", "Status", "Customer Balance", "Merchant Balance"})
		for _, c := range resp.Channels {
			t.AppendRow(table.Row{c.Label, c.ChannelID, c.Status, c.CustomerBalance, c.MerchantBalance})
		}
		t.Render()
		return nil
	},
}

var establishCommand = cli.Command{
	Name:      "establish",
	Usage:     "opens a new channel against the configured merchant",
	ArgsUsage: "label customer-deposit merchant-deposit",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "note", Value: ""},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.ShowCommandHelp(ctx, "establish")
		}
		var customerDeposit, merchantDeposit int64
		if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &customerDeposit); err != nil {
			return fmt.Errorf("invalid customer-deposit: %w", err)
		}
		if _, err := fmt.Sscanf(ctx.Args().Get(2), "%d", &merchantDeposit); err != nil {
			return fmt.Errorf("invalid merchant-deposit: %w", err)
		}

		client, cleanUp := getClient(ctx)
		defer cleanUp()

		resp, err := client.Establish(context.Background(), &rpc.EstablishRequest{
			Label:           ctx.Args().Get(0),
			CustomerDeposit: customerDeposit,
			MerchantDeposit: merchantDeposit,
			Note:            ctx.String("note"),
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var payCommand = cli.Command{
	Name:      "pay",
	Usage:     "makes a payment on an existing channel (negative amount refunds)",
	ArgsUsage: "label amount",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "note", Value: ""},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "pay")
		}
		var amount int64
		if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &amount); err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}

		client, cleanUp := getClient(ctx)
		defer cleanUp()

		resp, err := client.Pay(context.Background(), &rpc.PayRequest{
			Label:  ctx.Args().Get(0),
			Amount: amount,
			Note:   ctx.String("note"),
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var closeCommand = cli.Command{
	Name:      "close",
	Usage:     "closes an existing channel",
	ArgsUsage: "label",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "unilateral", Usage: "close without merchant cooperation"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "close")
		}

		client, cleanUp := getClient(ctx)
		defer cleanUp()

		_, err := client.CloseChannel(context.Background(), &rpc.CloseRequest{
			Label:      ctx.Args().Get(0),
			Unilateral: ctx.Bool("unilateral"),
		})
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

// runDaemon is app.Action: with no subcommand, customer starts the daemon
// itself -- its own control-plane listener plus the background watcher --
// and blocks until interrupted, the same shape lnd.go's Main loop takes.
func runDaemon(ctx *cli.Context) error {
	dataDir := ctx.GlobalString("datadir")
	if dataDir == "" {
		dataDir = "customer-data"
	}

	cfg, err := config.LoadCustomer(dataDir, os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println(version.String())
		return nil
	}

	log.SetLevel(cfg.Log.Level)
	if err := log.InitLogRotator(
		filepath.Join(cfg.Log.Dir, "customer.log"), cfg.Log.MaxLogFileSize, cfg.Log.MaxLogFiles,
	); err != nil {
		return err
	}

	customerStore := store.NewMockCustomerStore()
	driver := contract.NewMockDriver()
	zkCtx := zkabacus.DefaultContext()

	tlsConfig, err := session.LoadClientTLS(cfg.MerchantCertPath)
	if err != nil {
		return err
	}

	timeouts, err := cfg.Timeout.Parse()
	if err != nil {
		return err
	}
	if _, err := cfg.Retry.Policy(); err != nil {
		return err
	}
	retryCfg := cfg.Retry

	server := &rpc.CustomerServer{
		Store:                customerStore,
		Contract:             driver,
		ZkCtx:                zkCtx,
		MerchantAddress:      cfg.MerchantAddress,
		MerchantTLSConfig:    tlsConfig,
		FundingAddressPrefix: "tz1",
		ConfirmationDepth:    3,
		SelfDelay:            144,
		MaxNoteLength:        cfg.MaxNoteLength,
		Timeouts:             timeouts,
		RetryPolicy: func() backoff.BackOff {
			// Already validated above; retryCfg.Policy() here only
			// builds a fresh, unspent backoff.BackOff per dial.
			policy, _ := retryCfg.Policy()
			return policy
		},
	}

	grpcServer := rpc.NewGRPCServer()
	rpc.RegisterCustomerService(grpcServer, server)
	rpc.EnableMetrics(grpcServer)

	if cfg.RPC.MetricsAddress != "" {
		go func() {
			log.CustomerLog.Infof("metrics listening on %s", cfg.RPC.MetricsAddress)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.RPC.MetricsAddress, mux); err != nil {
				log.CustomerLog.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.RPC.Address)
	if err != nil {
		return err
	}

	pollInterval, err := time.ParseDuration(cfg.WatcherPollInterval)
	if err != nil {
		return fmt.Errorf("config: watcher.pollinterval: %w", err)
	}
	watch := &watcher.Watcher{Store: customerStore, Contract: driver, ZkCtx: zkCtx, PollInterval: pollInterval}
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	go watch.Run(watchCtx)

	go func() {
		log.CustomerLog.Infof("control plane listening on %s", cfg.RPC.Address)
		if err := grpcServer.Serve(lis); err != nil {
			log.CustomerLog.Errorf("grpc server stopped: %v", err)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	cancelWatch()
	grpcServer.GracefulStop()
	return nil
}
