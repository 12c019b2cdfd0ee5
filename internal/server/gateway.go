package server

import (
	"CustodyVault/internal/observability"
	"CustodyVault/internal/query"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Gateway serves VaultService as HTTP/JSON. Each route decodes the request,
// forwards it over gRPC with the x-admin-token and x-caller headers as
// metadata, and writes the reply, so the HTTP surface passes through the same
// interceptors as gRPC clients.
type Gateway struct {
	mux    *runtime.ServeMux
	client *VaultServiceClient
}

func incomingHeaderMatcher(key string) (string, bool) {
	switch strings.ToLower(key) {
	case AdminTokenKey, CallerKey:
		return strings.ToLower(key), true
	}
	return runtime.DefaultHeaderMatcher(key)
}

// NewGateway builds the HTTP routes over cc.
func NewGateway(cc grpc.ClientConnInterface) (*Gateway, error) {
	g := &Gateway{
		mux: runtime.NewServeMux(
			runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONBuiltin{}),
			runtime.WithIncomingHeaderMatcher(incomingHeaderMatcher),
		),
		client: NewVaultServiceClient(cc),
	}

	routes := []struct {
		method, pattern, rpc string
		decode               func(*http.Request, map[string]string) (interface{}, error)
		reply                func() interface{}
	}{
		{"POST", "/v1/admin/assets", MethodRegisterAsset,
			bodyInto[RegisterAssetRequest](nil),
			func() interface{} { return new(AssetResponse) }},
		{"POST", "/v1/admin/assets/{asset}/price-source", MethodSetPriceSource,
			bodyInto(func(r *SetPriceSourceRequest, p map[string]string) { r.Asset = p["asset"] }),
			func() interface{} { return new(AssetResponse) }},
		{"POST", "/v1/admin/assets/{asset}/supported", MethodSetAssetSupported,
			bodyInto(func(r *SetAssetSupportedRequest, p map[string]string) { r.Asset = p["asset"] }),
			func() interface{} { return new(AssetResponse) }},
		{"GET", "/v1/admin/integrity", MethodVerifyIntegrity,
			empty[VerifyIntegrityRequest],
			func() interface{} { return new(query.IntegrityReport) }},
		{"POST", "/v1/deposits", MethodDeposit,
			bodyInto[TransferRequest](nil),
			func() interface{} { return new(TransferResponse) }},
		{"POST", "/v1/withdrawals", MethodWithdraw,
			bodyInto[TransferRequest](nil),
			func() interface{} { return new(TransferResponse) }},
		{"GET", "/v1/balances/{user}/{asset}", MethodGetBalance,
			func(_ *http.Request, p map[string]string) (interface{}, error) {
				return &GetBalanceRequest{User: p["user"], Asset: p["asset"]}, nil
			},
			func() interface{} { return new(BalanceResponse) }},
		{"GET", "/v1/prices/{asset}", MethodGetPrice,
			func(_ *http.Request, p map[string]string) (interface{}, error) {
				return &GetPriceRequest{Asset: p["asset"]}, nil
			},
			func() interface{} { return new(PriceResponse) }},
		{"GET", "/v1/total", MethodGetTotalValue,
			empty[GetTotalValueRequest],
			func() interface{} { return new(TotalValueResponse) }},
		{"GET", "/v1/assets", MethodListAssets,
			empty[ListAssetsRequest],
			func() interface{} { return new(ListAssetsResponse) }},
		{"GET", "/v1/journals/{user}", MethodListJournals,
			decodeListJournals,
			func() interface{} { return new(query.JournalPage) }},
	}

	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, g.handler(rt.pattern, rt.rpc, rt.decode, rt.reply)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Handler returns the HTTP handler with the health endpoints mounted next to
// the API routes.
func (g *Gateway) Handler(hc *observability.HealthChecker) http.Handler {
	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	httpMux.Handle("/", g.mux)
	return httpMux
}

func (g *Gateway) handler(
	pattern, rpc string,
	decode func(*http.Request, map[string]string) (interface{}, error),
	reply func() interface{},
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		_, outbound := runtime.MarshalerForRequest(g.mux, r)

		ctx, err := runtime.AnnotateContext(r.Context(), g.mux, r, rpc, runtime.WithHTTPPathPattern(pattern))
		if err != nil {
			runtime.HTTPError(r.Context(), g.mux, outbound, w, r, err)
			return
		}

		in, err := decode(r, params)
		if err != nil {
			runtime.HTTPError(ctx, g.mux, outbound, w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}

		out := reply()
		if err := g.client.Invoke(ctx, rpc, in, out); err != nil {
			runtime.HTTPError(ctx, g.mux, outbound, w, r, err)
			return
		}

		buf, err := outbound.Marshal(out)
		if err != nil {
			runtime.HTTPError(ctx, g.mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", outbound.ContentType(out))
		w.Write(buf)
	}
}

// bodyInto decodes a JSON body into a new Req, then lets fill copy path
// parameters into it.
func bodyInto[Req any](fill func(*Req, map[string]string)) func(*http.Request, map[string]string) (interface{}, error) {
	return func(r *http.Request, params map[string]string) (interface{}, error) {
		in := new(Req)
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(in); err != nil && err != io.EOF {
			return nil, err
		}
		if fill != nil {
			fill(in, params)
		}
		return in, nil
	}
}

func empty[Req any](*http.Request, map[string]string) (interface{}, error) {
	return new(Req), nil
}

func decodeListJournals(r *http.Request, params map[string]string) (interface{}, error) {
	in := &ListJournalsRequest{User: params["user"]}
	q := r.URL.Query()
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		in.PageSize = n
	}
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		in.BeforeSequence = n
	}
	return in, nil
}
