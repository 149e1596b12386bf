package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full gRPC method name served by generator sidecars.
// Requests and responses are google.protobuf.Struct messages.
const GenerateMethod = "/goally.llm.v1.Generator/Generate"

var errConnectionShutdown = errors.New("connection shutdown")

// GRPCConfig holds configuration for the gRPC generator client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGenerator calls a generation sidecar over gRPC.
type GRPCGenerator struct {
	conn   *grpc.ClientConn
	cfg    GRPCConfig
	logger *slog.Logger
}

// NewGRPC dials cfg.Address and waits until the connection is ready.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create generator client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generator service", "address", cfg.Address)
	return &GRPCGenerator{conn: conn, cfg: cfg, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}
		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection state did not change from %s", state)
		}
	}
}

// Close closes the underlying connection.
func (g *GRPCGenerator) Close() error {
	return g.conn.Close()
}

// Generate implements Generator.
func (g *GRPCGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := g.generate(ctx, req)
	generatorCalls.WithLabelValues("grpc", req.Task, outcome(err)).Inc()
	generatorLatency.WithLabelValues("grpc", req.Task).Observe(time.Since(start).Seconds())
	return resp, err
}

func (g *GRPCGenerator) generate(ctx context.Context, req Request) (Response, error) {
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	in, err := encodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("invoke generator: %w", err)
	}

	fields := out.GetFields()
	content := fields["content"].GetStringValue()
	if req.JSON {
		content, err = NormalizeJSON(content)
		if err != nil {
			return Response{}, err
		}
	}
	return Response{Content: content, Model: fields["model"].GetStringValue()}, nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	msgs := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	in, err := structpb.NewStruct(map[string]any{
		"task":     req.Task,
		"mode":     req.Mode.String(),
		"json":     req.JSON,
		"messages": msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generator request: %w", err)
	}
	return in, nil
}
