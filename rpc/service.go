package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// ChannelSummary is the row shape both ListChannels responses share,
// trimmed to what a CLI table actually prints.
type ChannelSummary struct {
	Label           string `json:"label,omitempty"`
	ChannelID       string `json:"channel_id"`
	Status          string `json:"status"`
	CustomerBalance int64  `json:"customer_balance"`
	MerchantBalance int64  `json:"merchant_balance"`
}

type GetInfoRequest struct{}

type GetInfoResponse struct {
	Version string `json:"version"`
}

type ListChannelsRequest struct{}

type ListChannelsResponse struct {
	Channels []ChannelSummary `json:"channels"`
}

// EstablishRequest opens a new channel against the configured merchant
// (spec.md §4.E.2). Label identifies the channel locally; the ledger
// pubkey/funding address pair is generated by the customer daemon, not
// supplied by the caller.
type EstablishRequest struct {
	Label           string `json:"label"`
	CustomerDeposit int64  `json:"customer_deposit"`
	MerchantDeposit int64  `json:"merchant_deposit"`
	Note            string `json:"note"`
}

type EstablishResponse struct {
	ChannelID string `json:"channel_id"`
}

// PayRequest is a single Pay session (spec.md §4.E.3). A negative Amount
// is a refund, matching zkchannel.PaymentAmount's sign convention.
type PayRequest struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

type PayResponse struct {
	Note string `json:"note"`
}

// CloseRequest starts mutual close (spec.md §4.E.4) unless Unilateral is
// set, which instead runs the customer's own cust_close path (spec.md
// §4.F's CustomerClose).
type CloseRequest struct {
	Label      string `json:"label"`
	Unilateral bool   `json:"unilateral"`
}

type CloseResponse struct{}

// CustomerService is the handler surface cmd/customer's CLI drives over
// the control-plane connection.
type CustomerService interface {
	GetInfo(ctx context.Context, req *GetInfoRequest) (*GetInfoResponse, error)
	ListChannels(ctx context.Context, req *ListChannelsRequest) (*ListChannelsResponse, error)
	Establish(ctx context.Context, req *EstablishRequest) (*EstablishResponse, error)
	Pay(ctx context.Context, req *PayRequest) (*PayResponse, error)
	Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error)
}

// MerchantService is the handler surface cmd/merchant's CLI drives. The
// merchant never initiates Establish/Pay/Close itself; its control plane
// only exposes read access.
type MerchantService interface {
	GetInfo(ctx context.Context, req *GetInfoRequest) (*GetInfoResponse, error)
	ListChannels(ctx context.Context, req *ListChannelsRequest) (*ListChannelsResponse, error)
}

func decodeRequest(dec func(any) error, v any) error {
	return dec(v)
}

// customerGetInfoHandler and its siblings below give grpc.ServiceDesc the
// method table a protoc-generated _grpc.pb.go would otherwise supply;
// there is no .proto in this tree, so it is written by hand against the
// json codec registered in codec.go.
func customerGetInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetInfoRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustomerService).GetInfo(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Customer/GetInfo"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustomerService).GetInfo(ctx, req.(*GetInfoRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func customerListChannelsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListChannelsRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustomerService).ListChannels(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Customer/ListChannels"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustomerService).ListChannels(ctx, req.(*ListChannelsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func customerEstablishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(EstablishRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustomerService).Establish(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Customer/Establish"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustomerService).Establish(ctx, req.(*EstablishRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func customerPayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(PayRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustomerService).Pay(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Customer/Pay"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustomerService).Pay(ctx, req.(*PayRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func customerCloseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CloseRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CustomerService).Close(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Customer/Close"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CustomerService).Close(ctx, req.(*CloseRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func merchantGetInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetInfoRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MerchantService).GetInfo(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Merchant/GetInfo"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MerchantService).GetInfo(ctx, req.(*GetInfoRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func merchantListChannelsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListChannelsRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MerchantService).ListChannels(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zeekoe.Merchant/ListChannels"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MerchantService).ListChannels(ctx, req.(*ListChannelsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// CustomerServiceDesc is registered with a *grpc.Server via
// RegisterCustomerService; cmd/customer's client calls the same method
// names with grpc.Invoke under the json codec.
var CustomerServiceDesc = grpc.ServiceDesc{
	ServiceName: "zeekoe.Customer",
	HandlerType: (*CustomerService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: customerGetInfoHandler},
		{MethodName: "ListChannels", Handler: customerListChannelsHandler},
		{MethodName: "Establish", Handler: customerEstablishHandler},
		{MethodName: "Pay", Handler: customerPayHandler},
		{MethodName: "Close", Handler: customerCloseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zeekoe/customer.proto",
}

// MerchantServiceDesc is the merchant control plane's analogue.
var MerchantServiceDesc = grpc.ServiceDesc{
	ServiceName: "zeekoe.Merchant",
	HandlerType: (*MerchantService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: merchantGetInfoHandler},
		{MethodName: "ListChannels", Handler: merchantListChannelsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zeekoe/merchant.proto",
}

// RegisterCustomerService registers srv against s using the json codec,
// the hand-rolled equivalent of a generated RegisterCustomerServer call.
func RegisterCustomerService(s *grpc.Server, srv CustomerService) {
	s.RegisterService(&CustomerServiceDesc, srv)
}

// RegisterMerchantService is RegisterCustomerService's merchant analogue.
func RegisterMerchantService(s *grpc.Server, srv MerchantService) {
	s.RegisterService(&MerchantServiceDesc, srv)
}

// channelSummaryFromCustomerRow adapts a store row into the wire shape,
// shared by CustomerServer.ListChannels and MerchantServer.ListChannels.
func channelSummaryFromCustomerRow(label, channelID, status string, balances zkchannel.Balances) ChannelSummary {
	return ChannelSummary{
		Label:           label,
		ChannelID:       channelID,
		Status:          status,
		CustomerBalance: int64(balances.CustomerBalance),
		MerchantBalance: int64(balances.MerchantBalance),
	}
}
