package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/sebas/conductor/internal/focus/colibri"

	grpccodes "google.golang.org/grpc/codes"
)

// Unary method names of the bridge control service.
const (
	methodConferenceModify = "/colibri.v1.Bridge/ConferenceModify"
	methodHealth           = "/colibri.v1.Bridge/Health"
)

// codecName is the content subtype for the JSON document codec.
const codecName = "colibri-json"

// jsonCodec marshals colibri documents as JSON over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// healthRequest and healthResponse are the health probe documents.
type healthRequest struct{}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}

// GRPCConfig holds gRPC client configuration
type GRPCConfig struct {
	Address           string
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultGRPCConfig returns sensible defaults
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// GRPCChannel implements ControlChannel over a gRPC connection to one
// bridge.
type GRPCChannel struct {
	conn  *grpc.ClientConn
	mu    sync.RWMutex
	ready bool
}

// NewGRPCChannel connects to a bridge's control endpoint.
func NewGRPCChannel(cfg GRPCConfig) (*GRPCChannel, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", cfg.Address, err)
	}

	slog.Info("[gRPC] Connected to bridge", "address", cfg.Address)
	return &GRPCChannel{conn: conn, ready: true}, nil
}

// ConferenceModify implements ControlChannel.ConferenceModify.
func (c *GRPCChannel) ConferenceModify(ctx context.Context, req *colibri.ConferenceModifyRequest) (*colibri.ConferenceModifyResponse, error) {
	var resp colibri.ConferenceModifyResponse
	if err := c.conn.Invoke(ctx, methodConferenceModify, req, &resp); err != nil {
		return nil, mapTransportError(err)
	}
	return &resp, nil
}

// Health implements ControlChannel.Health.
func (c *GRPCChannel) Health(ctx context.Context) error {
	var resp healthResponse
	if err := c.conn.Invoke(ctx, methodHealth, &healthRequest{}, &resp); err != nil {
		return mapTransportError(err)
	}
	if !resp.Healthy {
		return fmt.Errorf("bridge reported unhealthy")
	}
	return nil
}

// Ready implements ControlChannel.Ready.
func (c *GRPCChannel) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready && c.conn != nil
}

// Close implements ControlChannel.Close.
func (c *GRPCChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// mapTransportError surfaces deadline exhaustion as the context error so
// callers can branch on errors.Is(err, context.DeadlineExceeded).
func mapTransportError(err error) error {
	if s, ok := status.FromError(err); ok && s.Code() == grpccodes.DeadlineExceeded {
		return fmt.Errorf("bridge request: %w", context.DeadlineExceeded)
	}
	return err
}
