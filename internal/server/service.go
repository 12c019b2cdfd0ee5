package server

import (
	"CustodyVault/internal/query"
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "custodyvault.v1.VaultService"

// Full method names, used by the interceptors and the gateway.
const (
	MethodRegisterAsset     = "/" + ServiceName + "/RegisterAsset"
	MethodSetPriceSource    = "/" + ServiceName + "/SetPriceSource"
	MethodSetAssetSupported = "/" + ServiceName + "/SetAssetSupported"
	MethodVerifyIntegrity   = "/" + ServiceName + "/VerifyIntegrity"
	MethodDeposit           = "/" + ServiceName + "/Deposit"
	MethodWithdraw          = "/" + ServiceName + "/Withdraw"
	MethodGetBalance        = "/" + ServiceName + "/GetBalance"
	MethodGetPrice          = "/" + ServiceName + "/GetPrice"
	MethodGetTotalValue     = "/" + ServiceName + "/GetTotalValue"
	MethodListAssets        = "/" + ServiceName + "/ListAssets"
	MethodListJournals      = "/" + ServiceName + "/ListJournals"
)

// adminMethods require the admin token.
var adminMethods = map[string]bool{
	MethodRegisterAsset:     true,
	MethodSetPriceSource:    true,
	MethodSetAssetSupported: true,
	MethodVerifyIntegrity:   true,
}

// callerMethods act on behalf of the x-caller identity.
var callerMethods = map[string]bool{
	MethodDeposit:  true,
	MethodWithdraw: true,
}

// VaultServiceServer is the server API for VaultService.
type VaultServiceServer interface {
	RegisterAsset(context.Context, *RegisterAssetRequest) (*AssetResponse, error)
	SetPriceSource(context.Context, *SetPriceSourceRequest) (*AssetResponse, error)
	SetAssetSupported(context.Context, *SetAssetSupportedRequest) (*AssetResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	Deposit(context.Context, *TransferRequest) (*TransferResponse, error)
	Withdraw(context.Context, *TransferRequest) (*TransferResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*BalanceResponse, error)
	GetPrice(context.Context, *GetPriceRequest) (*PriceResponse, error)
	GetTotalValue(context.Context, *GetTotalValueRequest) (*TotalValueResponse, error)
	ListAssets(context.Context, *ListAssetsRequest) (*ListAssetsResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*query.JournalPage, error)
}

func RegisterVaultServiceServer(s grpc.ServiceRegistrar, srv VaultServiceServer) {
	s.RegisterService(&VaultService_ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(VaultServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VaultServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(VaultServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// VaultService_ServiceDesc is the grpc.ServiceDesc for VaultService.
var VaultService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAsset", Handler: unaryHandler(MethodRegisterAsset, VaultServiceServer.RegisterAsset)},
		{MethodName: "SetPriceSource", Handler: unaryHandler(MethodSetPriceSource, VaultServiceServer.SetPriceSource)},
		{MethodName: "SetAssetSupported", Handler: unaryHandler(MethodSetAssetSupported, VaultServiceServer.SetAssetSupported)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler(MethodVerifyIntegrity, VaultServiceServer.VerifyIntegrity)},
		{MethodName: "Deposit", Handler: unaryHandler(MethodDeposit, VaultServiceServer.Deposit)},
		{MethodName: "Withdraw", Handler: unaryHandler(MethodWithdraw, VaultServiceServer.Withdraw)},
		{MethodName: "GetBalance", Handler: unaryHandler(MethodGetBalance, VaultServiceServer.GetBalance)},
		{MethodName: "GetPrice", Handler: unaryHandler(MethodGetPrice, VaultServiceServer.GetPrice)},
		{MethodName: "GetTotalValue", Handler: unaryHandler(MethodGetTotalValue, VaultServiceServer.GetTotalValue)},
		{MethodName: "ListAssets", Handler: unaryHandler(MethodListAssets, VaultServiceServer.ListAssets)},
		{MethodName: "ListJournals", Handler: unaryHandler(MethodListJournals, VaultServiceServer.ListJournals)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custodyvault/v1/vault.json",
}

// VaultServiceClient is the client API for VaultService. Calls use the JSON
// codec.
type VaultServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewVaultServiceClient(cc grpc.ClientConnInterface) *VaultServiceClient {
	return &VaultServiceClient{cc: cc}
}

// Invoke calls method with in and decodes the reply into out.
func (c *VaultServiceClient) Invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *VaultServiceClient) Deposit(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	out := new(TransferResponse)
	return out, c.Invoke(ctx, MethodDeposit, in, out, opts...)
}

func (c *VaultServiceClient) Withdraw(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	out := new(TransferResponse)
	return out, c.Invoke(ctx, MethodWithdraw, in, out, opts...)
}

func (c *VaultServiceClient) RegisterAsset(ctx context.Context, in *RegisterAssetRequest, opts ...grpc.CallOption) (*AssetResponse, error) {
	out := new(AssetResponse)
	return out, c.Invoke(ctx, MethodRegisterAsset, in, out, opts...)
}

func (c *VaultServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	return out, c.Invoke(ctx, MethodGetBalance, in, out, opts...)
}

func (c *VaultServiceClient) GetPrice(ctx context.Context, in *GetPriceRequest, opts ...grpc.CallOption) (*PriceResponse, error) {
	out := new(PriceResponse)
	return out, c.Invoke(ctx, MethodGetPrice, in, out, opts...)
}

func (c *VaultServiceClient) GetTotalValue(ctx context.Context, in *GetTotalValueRequest, opts ...grpc.CallOption) (*TotalValueResponse, error) {
	out := new(TotalValueResponse)
	return out, c.Invoke(ctx, MethodGetTotalValue, in, out, opts...)
}
