package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/agentic-reviewer/internal/config"
)

func startBufconn(t *testing.T, svc ReviewAPI) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerOnListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, NewGRPCService(svc, nil))
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func TestGRPCReview(t *testing.T) {
	stub := &stubService{}
	client := NewReviewerClient(startBufconn(t, stub))

	out, err := client.Review(context.Background(), mustStruct(t, map[string]any{
		"text":            "Delete my data",
		"predicted_label": "Access Request",
		"confidence":      0.8,
	}))
	require.NoError(t, err)
	assert.Equal(t, "Disagree", out.Fields["verdict"].GetStringValue())
	assert.Equal(t, "Deletion Request", out.Fields["suggested_label"].GetStringValue())
	assert.True(t, out.Fields["success"].GetBoolValue())
	assert.Equal(t, "Access Request", stub.lastReview.PredictedLabel)
}

func TestGRPCReviewInvalidArgument(t *testing.T) {
	client := NewReviewerClient(startBufconn(t, &stubService{}))

	_, err := client.Review(context.Background(), mustStruct(t, map[string]any{"text": "x"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ReviewBatch(context.Background(), mustStruct(t, map[string]any{"strategy": map[string]any{"kind": "best"}}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Review(context.Background(), mustStruct(t, map[string]any{"text": "x", "predicted_label": "Complaint", "confidence": "high"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCReviewBatchAndStats(t *testing.T) {
	client := NewReviewerClient(startBufconn(t, &stubService{}))

	out, err := client.ReviewBatch(context.Background(), mustStruct(t, map[string]any{
		"samples": []any{
			map[string]any{"id": "a", "text": "x", "pred_label": "Complaint", "confidence": 0.3},
		},
		"strategy": map[string]any{"kind": "all"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "pass-1", out.Fields["pass_id"].GetStringValue())
	results := out.Fields["results"].GetListValue().GetValues()
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].GetStructValue().Fields["sample_id"].GetStringValue())

	stats, err := client.CacheStats(context.Background(), &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, 0.75, stats.Fields["hit_rate"].GetNumberValue())
}

func TestGRPCHistory(t *testing.T) {
	client := NewReviewerClient(startBufconn(t, &stubService{}))
	out, err := client.History(context.Background(), mustStruct(t, map[string]any{"sample_id": "s7", "limit": 3}))
	require.NoError(t, err)
	items := out.Fields["items"].GetListValue().GetValues()
	require.Len(t, items, 1)
	result := items[0].GetStructValue().Fields["result"].GetStructValue()
	assert.Equal(t, "s7", result.Fields["sample_id"].GetStringValue())
}

func TestGRPCHealth(t *testing.T) {
	conn := startBufconn(t, &stubService{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ReviewerServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGRPCCodeMapping(t *testing.T) {
	assert.Equal(t, codes.Internal, grpcCode(assert.AnError))
	assert.Equal(t, codes.DeadlineExceeded, grpcCode(context.DeadlineExceeded))
}

func TestGRPCSummary(t *testing.T) {
	client := NewReviewerClient(startBufconn(t, &stubService{}))
	out, err := client.Summary(context.Background(), mustStruct(t, map[string]any{"pass_id": "pass-1"}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), out.Fields["total"].GetNumberValue())

	_, err = client.Summary(context.Background(), mustStruct(t, map[string]any{"pass_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}
