package api

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// ReviewerServiceName is the fully qualified gRPC service name.
const ReviewerServiceName = "reviewer.v1.Reviewer"

// ReviewerServer is the gRPC surface. Messages are google.protobuf.Struct
// values carrying the same JSON shapes as the HTTP API.
type ReviewerServer interface {
	Review(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ReviewBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CacheStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Summary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv ReviewerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReviewerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ReviewerServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReviewerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ReviewerServiceDesc describes reviewer.v1.Reviewer for grpc.Server.RegisterService.
var ReviewerServiceDesc = grpc.ServiceDesc{
	ServiceName: ReviewerServiceName,
	HandlerType: (*ReviewerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Review", Handler: unaryHandler("Review", ReviewerServer.Review)},
		{MethodName: "ReviewBatch", Handler: unaryHandler("ReviewBatch", ReviewerServer.ReviewBatch)},
		{MethodName: "CacheStats", Handler: unaryHandler("CacheStats", ReviewerServer.CacheStats)},
		{MethodName: "History", Handler: unaryHandler("History", ReviewerServer.History)},
		{MethodName: "Summary", Handler: unaryHandler("Summary", ReviewerServer.Summary)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reviewer/v1/reviewer.proto",
}

// RegisterReviewerServer registers srv on s.
func RegisterReviewerServer(s grpc.ServiceRegistrar, srv ReviewerServer) {
	s.RegisterService(&ReviewerServiceDesc, srv)
}

// ReviewerClient calls reviewer.v1.Reviewer.
type ReviewerClient struct {
	cc grpc.ClientConnInterface
}

// NewReviewerClient wraps a client connection.
func NewReviewerClient(cc grpc.ClientConnInterface) *ReviewerClient {
	return &ReviewerClient{cc: cc}
}

func (c *ReviewerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ReviewerServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Review calls Review.
func (c *ReviewerClient) Review(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Review", in, opts...)
}

// ReviewBatch calls ReviewBatch.
func (c *ReviewerClient) ReviewBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ReviewBatch", in, opts...)
}

// CacheStats calls CacheStats.
func (c *ReviewerClient) CacheStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CacheStats", in, opts...)
}

// History calls History.
func (c *ReviewerClient) History(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "History", in, opts...)
}

// Summary calls Summary.
func (c *ReviewerClient) Summary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Summary", in, opts...)
}

// GRPCService adapts a ReviewAPI to ReviewerServer.
type GRPCService struct {
	svc    ReviewAPI
	logger *slog.Logger
}

// NewGRPCService constructs the gRPC adapter.
func NewGRPCService(svc ReviewAPI, logger *slog.Logger) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCService{svc: svc, logger: logger}
}

// Review implements ReviewerServer.
func (g *GRPCService) Review(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body reviewRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, g.status(err)
	}
	req, err := body.toModel()
	if err != nil {
		return nil, g.status(err)
	}
	res, err := g.svc.Review(ctx, req)
	if err != nil {
		return nil, g.status(err)
	}
	return g.reply(res)
}

// ReviewBatch implements ReviewerServer.
func (g *GRPCService) ReviewBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req models.BatchReviewRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, g.status(err)
	}
	resp, err := g.svc.ReviewBatch(ctx, req)
	if err != nil {
		return nil, g.status(err)
	}
	return g.reply(resp)
}

// CacheStats implements ReviewerServer.
func (g *GRPCService) CacheStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return g.reply(g.svc.CacheStats())
}

// History implements ReviewerServer.
func (g *GRPCService) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req historyRequestBody
	if err := decodeStruct(in, &req); err != nil {
		return nil, g.status(err)
	}
	records, err := g.svc.History(ctx, req.SampleID, req.Limit)
	if err != nil {
		return nil, g.status(err)
	}
	out, err := encodeList(records)
	if err != nil {
		return nil, g.status(err)
	}
	return out, nil
}

// Summary implements ReviewerServer.
func (g *GRPCService) Summary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req summaryRequestBody
	if err := decodeStruct(in, &req); err != nil {
		return nil, g.status(err)
	}
	summary, err := g.svc.Summary(ctx, req.PassID)
	if err != nil {
		return nil, g.status(err)
	}
	return g.reply(summary)
}

func (g *GRPCService) reply(v any) (*structpb.Struct, error) {
	out, err := encodeStruct(v)
	if err != nil {
		return nil, g.status(err)
	}
	return out, nil
}

func (g *GRPCService) status(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		g.logger.Error("grpc request failed", slog.Any("error", err))
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
