package bridge

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/session"
)

type unaryClient = connect.Client[structpb.Struct, structpb.Struct]

// Client calls a bridge Server.
type Client struct {
	begin  *unaryClient
	finish *unaryClient
	cancel *unaryClient
	status *unaryClient
	forget *unaryClient
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	newUnary := func(procedure string) *unaryClient {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &Client{
		begin:  newUnary(BeginProcedure),
		finish: newUnary(FinishProcedure),
		cancel: newUnary(CancelProcedure),
		status: newUnary(StatusProcedure),
		forget: newUnary(ForgetProcedure),
	}
}

// Begin starts a session and returns its handle.
func (c *Client) Begin(ctx context.Context, input session.Input, prior *adjustment.Blob) (string, error) {
	msg, err := beginMessage(input, prior)
	if err != nil {
		return "", err
	}
	res, err := c.begin.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return "", err
	}
	return stringField(res.Msg, fieldHandle), nil
}

// Finish completes a session. Under the server's wait policy the call
// blocks until the editor exits or ctx ends.
func (c *Client) Finish(ctx context.Context, handle string) (session.Result, error) {
	res, err := c.finish.CallUnary(ctx, connect.NewRequest(handleMessage(handle)))
	if err != nil {
		return session.Result{}, err
	}
	return parseResult(res.Msg)
}

// Cancel discards a session and returns its resulting status.
func (c *Client) Cancel(ctx context.Context, handle string) (Status, error) {
	res, err := c.cancel.CallUnary(ctx, connect.NewRequest(handleMessage(handle)))
	if err != nil {
		return Status{}, err
	}
	return parseStatus(res.Msg)
}

// Status returns the current view of a session.
func (c *Client) Status(ctx context.Context, handle string) (Status, error) {
	res, err := c.status.CallUnary(ctx, connect.NewRequest(handleMessage(handle)))
	if err != nil {
		return Status{}, err
	}
	return parseStatus(res.Msg)
}

// Forget drops a terminal session's record on the server.
func (c *Client) Forget(ctx context.Context, handle string) error {
	_, err := c.forget.CallUnary(ctx, connect.NewRequest(handleMessage(handle)))
	return err
}
