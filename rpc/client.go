package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// CustomerClient is the thin wrapper cmd/customer's CLI commands dial
// against, the control-plane analogue of cmd/lncli's lnrpc.NewLightningClient.
type CustomerClient struct {
	conn *grpc.ClientConn
}

// DialCustomer connects to a customer daemon's local control-plane
// listener. The connection is unauthenticated loopback traffic, same as
// lncli's default macaroon-less dial when run against localhost.
func DialCustomer(address string) (*CustomerClient, error) {
	conn, err := grpc.Dial(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing customer daemon at %s: %w", address, err)
	}
	return &CustomerClient{conn: conn}, nil
}

func (c *CustomerClient) Close() error { return c.conn.Close() }

func (c *CustomerClient) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	resp := new(GetInfoResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Customer/GetInfo", &GetInfoRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CustomerClient) ListChannels(ctx context.Context) (*ListChannelsResponse, error) {
	resp := new(ListChannelsResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Customer/ListChannels", &ListChannelsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CustomerClient) Establish(ctx context.Context, req *EstablishRequest) (*EstablishResponse, error) {
	resp := new(EstablishResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Customer/Establish", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CustomerClient) Pay(ctx context.Context, req *PayRequest) (*PayResponse, error) {
	resp := new(PayResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Customer/Pay", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CustomerClient) CloseChannel(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	resp := new(CloseResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Customer/Close", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MerchantClient is cmd/merchant's read-only analogue.
type MerchantClient struct {
	conn *grpc.ClientConn
}

func DialMerchant(address string) (*MerchantClient, error) {
	conn, err := grpc.Dial(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing merchant daemon at %s: %w", address, err)
	}
	return &MerchantClient{conn: conn}, nil
}

func (c *MerchantClient) Close() error { return c.conn.Close() }

func (c *MerchantClient) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	resp := new(GetInfoResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Merchant/GetInfo", &GetInfoRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MerchantClient) ListChannels(ctx context.Context) (*ListChannelsResponse, error) {
	resp := new(ListChannelsResponse)
	if err := c.conn.Invoke(ctx, "/zeekoe.Merchant/ListChannels", &ListChannelsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
