package rpc

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cenkalti/backoff/v4"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/log"
	closepkg "github.com/boltlabs-inc/zeekoe/protocol/close"
	"github.com/boltlabs-inc/zeekoe/protocol/establish"
	"github.com/boltlabs-inc/zeekoe/protocol/parameters"
	"github.com/boltlabs-inc/zeekoe/protocol/pay"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/version"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

const defaultMaxFrameLen = 1 << 20

// CustomerServer implements CustomerService, fulfilling each control-plane
// call by dialing a fresh session to the configured merchant and driving
// the matching protocol/* package. Grounded on rpcserver.go's pattern of a
// thin gRPC-facing struct that does no protocol work itself, only dials
// into the lower layer (there, the peer pool; here, package session) and
// adapts its result to the wire response.
type CustomerServer struct {
	Store    store.CustomerStore
	Contract contract.Driver
	ZkCtx    zkabacus.Context

	MerchantAddress      string
	MerchantTLSConfig    *tls.Config
	FundingAddressPrefix string
	ConfirmationDepth    uint32
	SelfDelay            uint32
	MaxNoteLength        int

	// Timeouts bounds every Send/Recv and approval/verification/
	// transaction phase of the sessions this server drives (spec.md §5
	// "Cancellation/timeouts").
	Timeouts session.Timeouts
	// RetryPolicy governs dial() reconnect attempts; nil means dial once
	// and fail immediately, matching the teacher's un-retried net.Dial.
	RetryPolicy func() backoff.BackOff
}

var _ CustomerService = (*CustomerServer)(nil)

func (s *CustomerServer) dial() (*session.Session, error) {
	var (
		sess *session.Session
		err  error
	)
	if s.RetryPolicy != nil {
		sess, err = session.DialWithRetry(s.MerchantAddress, s.MerchantTLSConfig, defaultMaxFrameLen, s.RetryPolicy())
	} else {
		sess, err = session.Dial(s.MerchantAddress, s.MerchantTLSConfig, defaultMaxFrameLen)
	}
	if err != nil {
		return nil, err
	}
	sess.SetTimeouts(s.Timeouts)
	return sess, nil
}

func (s *CustomerServer) GetInfo(ctx context.Context, req *GetInfoRequest) (*GetInfoResponse, error) {
	return &GetInfoResponse{Version: version.String()}, nil
}

func (s *CustomerServer) ListChannels(ctx context.Context, req *ListChannelsRequest) (*ListChannelsResponse, error) {
	rows, err := s.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	resp := &ListChannelsResponse{Channels: make([]ChannelSummary, 0, len(rows))}
	for _, row := range rows {
		resp.Channels = append(resp.Channels, channelSummaryFromCustomerRow(
			string(row.Label), row.ChannelID.String(), string(row.State.Variant()), row.Balances))
	}
	return resp, nil
}

// Establish runs a Parameters session to fetch the merchant's current
// configuration, mints a fresh ledger keypair for this channel, then runs
// a second session for Establish itself (spec.md §4.E.1 and §4.E.2 are
// always two separate sessions, never one).
func (s *CustomerServer) Establish(ctx context.Context, req *EstablishRequest) (*EstablishResponse, error) {
	paramsSession, err := s.dial()
	if err != nil {
		return nil, err
	}
	if err := paramsSession.ChooseTopLevel(session.ChoiceParameters); err != nil {
		return nil, err
	}
	merchantParams, err := parameters.RunCustomer(paramsSession, s.FundingAddressPrefix)
	if err != nil {
		return nil, err
	}

	ledgerKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("rpc: generating customer ledger key: %w", err)
	}
	customerLedgerPubkey := ledgerKey.PubKey().SerializeCompressed()
	customerLedgerSecret := ledgerKey.Serialize()
	addrHash := sha256.Sum256(customerLedgerPubkey)
	customerFundingAddress := fmt.Sprintf("%s%x", s.FundingAddressPrefix, addrHash[:])

	establishSession, err := s.dial()
	if err != nil {
		return nil, err
	}

	deps := establish.CustomerDeps{
		Store:             s.Store,
		Contract:          s.Contract,
		ZkCtx:             s.ZkCtx,
		MaxNote:           s.MaxNoteLength,
		ConfirmationDepth: s.ConfirmationDepth,
		SelfDelay:         s.SelfDelay,
	}

	channelID, err := establish.RunCustomer(ctx, establishSession, deps,
		zkchannel.Label(req.Label), zkchannel.Amount(req.CustomerDeposit), zkchannel.Amount(req.MerchantDeposit),
		zkchannel.Note(req.Note), customerLedgerPubkey, customerLedgerSecret, customerFundingAddress,
		merchantParams.Config.MerchantPublicKey, merchantParams.MerchantFundingAddr, merchantParams.MerchantLedgerPubkey)
	if err != nil {
		log.RPCLog.Errorf("establish %s: %v", req.Label, err)
		return nil, err
	}

	return &EstablishResponse{ChannelID: channelID.String()}, nil
}

func (s *CustomerServer) Pay(ctx context.Context, req *PayRequest) (*PayResponse, error) {
	payment, err := s.dial()
	if err != nil {
		return nil, err
	}

	deps := pay.CustomerDeps{Store: s.Store, ZkCtx: s.ZkCtx, MaxNote: s.MaxNoteLength}
	note, err := pay.RunCustomer(ctx, payment, deps, zkchannel.Label(req.Label), zkchannel.PaymentAmount(req.Amount), zkchannel.Note(req.Note))
	if err != nil {
		log.RPCLog.Errorf("pay %s: %v", req.Label, err)
		return nil, err
	}
	return &PayResponse{Note: string(note)}, nil
}

func (s *CustomerServer) Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	deps := closepkg.CustomerDeps{Store: s.Store, Contract: s.Contract, ZkCtx: s.ZkCtx}

	if req.Unilateral {
		if err := closepkg.CustomerUnilateralClose(ctx, deps, zkchannel.Label(req.Label)); err != nil {
			return nil, err
		}
		return &CloseResponse{}, nil
	}

	closeSession, err := s.dial()
	if err != nil {
		return nil, err
	}
	if err := closepkg.RunCustomerMutualClose(ctx, closeSession, deps, zkchannel.Label(req.Label)); err != nil {
		log.RPCLog.Errorf("close %s: %v", req.Label, err)
		return nil, err
	}
	return &CloseResponse{}, nil
}

// MerchantServer implements MerchantService. The merchant daemon's
// incoming sessions are handled separately by the accept loop in
// cmd/merchant plus the protocol/*.RunMerchant entry points (spec.md §4.B); this
// struct is only the read-only control surface cmd/merchant's CLI talks
// to, the merchant-side counterpart of CustomerServer.GetInfo/ListChannels.
type MerchantServer struct {
	Store store.MerchantStore
}

var _ MerchantService = (*MerchantServer)(nil)

func (s *MerchantServer) GetInfo(ctx context.Context, req *GetInfoRequest) (*GetInfoResponse, error) {
	return &GetInfoResponse{Version: version.String()}, nil
}

func (s *MerchantServer) ListChannels(ctx context.Context, req *ListChannelsRequest) (*ListChannelsResponse, error) {
	rows, err := s.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	resp := &ListChannelsResponse{Channels: make([]ChannelSummary, 0, len(rows))}
	for _, row := range rows {
		resp.Channels = append(resp.Channels, channelSummaryFromCustomerRow(
			"", row.ChannelID.String(), string(row.Status), row.Balances))
	}
	return resp, nil
}
