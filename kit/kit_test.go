package kit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"), mw("c"))(base)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}, order)
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Chain(Logging(logger, "base"))(base)(context.Background(), nil)
	assert.ErrorIs(t, err, errFail)
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "cli", GetTransport(ctx))
	assert.Equal(t, "", GetTraceID(ctx))
	assert.Equal(t, ActivationManual, GetActivation(ctx))
}

func TestContext_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "http")
	ctx = WithTraceID(ctx, "trc_xyz")
	ctx = WithActivation(ctx, ActivationAuto)

	assert.Equal(t, "http", GetTransport(ctx))
	assert.Equal(t, "trc_xyz", GetTraceID(ctx))
	assert.Equal(t, ActivationAuto, GetActivation(ctx))
}

type echoReq struct {
	Name string `json:"name"`
}

func mcpSession(t *testing.T, endpoint Endpoint) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name: "echo",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
	}, endpoint, DecodeArgs[echoReq])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPTool(t *testing.T) {
	var transport string
	session := mcpSession(t, func(ctx context.Context, req any) (any, error) {
		transport = GetTransport(ctx)
		return map[string]string{"hello": req.(echoReq).Name}, nil
	})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"name": "spy"},
	})
	require.NoError(t, err)
	require.NoError(t, res.GetError())

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out))
	assert.Equal(t, "spy", out["hello"])
	assert.Equal(t, "mcp", transport)
}

func TestRegisterMCPTool_EndpointError(t *testing.T) {
	// WHAT: endpoint failures surface as tool errors.
	// WHY: a protocol error would tear down the client call.
	session := mcpSession(t, func(context.Context, any) (any, error) {
		return nil, errors.New("no such fund")
	})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDecodeArgs_Empty(t *testing.T) {
	v, err := DecodeArgs[echoReq](nil)
	require.NoError(t, err)
	assert.Equal(t, echoReq{}, v)

	_, err = DecodeArgs[echoReq](json.RawMessage(`{"name":`))
	assert.Error(t, err)
}
