package llm_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/goally/internal/llm"
)

type generatorServer interface {
	Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type fakeSidecar struct {
	last *structpb.Struct
	err  error
}

func (f *fakeSidecar) Generate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return structpb.NewStruct(map[string]any{
		"content": `{"ready": true}`,
		"model":   "sidecar-1",
	})
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "goally.llm.v1.Generator",
	HandlerType: (*generatorServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(generatorServer).Generate(ctx, in)
		},
	}},
}

func startSidecar(t *testing.T, impl *fakeSidecar) *llm.GRPCGenerator {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&generatorServiceDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	g, err := llm.NewGRPC(llm.DefaultGRPCConfig("passthrough:///bufnet"), nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGRPCGenerator(t *testing.T) {
	t.Parallel()

	impl := &fakeSidecar{}
	g := startSidecar(t, impl)

	resp, err := g.Generate(context.Background(), llm.Request{
		Task:     llm.TaskAssessGoal,
		Mode:     llm.Deterministic,
		JSON:     true,
		Messages: []llm.Message{llm.System("assess"), llm.User("learn go")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ready": true}`, resp.Content)
	assert.Equal(t, "sidecar-1", resp.Model)

	fields := impl.last.GetFields()
	assert.Equal(t, llm.TaskAssessGoal, fields["task"].GetStringValue())
	assert.Equal(t, "deterministic", fields["mode"].GetStringValue())
	assert.True(t, fields["json"].GetBoolValue())
	assert.Len(t, fields["messages"].GetListValue().GetValues(), 2)
}

func TestGRPCGeneratorResourceExhausted(t *testing.T) {
	t.Parallel()

	g := startSidecar(t, &fakeSidecar{err: status.Error(codes.ResourceExhausted, "quota")})

	_, err := g.Generate(context.Background(), llm.Request{Task: llm.TaskCasualReply})
	require.ErrorIs(t, err, llm.ErrRateLimited)
}
