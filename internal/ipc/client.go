package ipc

import (
	"errors"
	"io/fs"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"syscall"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// IsUnavailable reports whether err means no daemon is listening at the
// socket path, as opposed to a failure from a running daemon.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, rpc.ErrShutdown)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Conveyor.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start the engine.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Conveyor.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the engine.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Conveyor.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Conveyor.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit creates a pipeline for a batch of work item references.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Conveyor.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns live pipelines optionally filtered by statuses.
func (c *Client) List(statuses []string) (*ListResponse, error) {
	var resp ListResponse
	req := ListRequest{Statuses: statuses}
	if err := c.client.Call("Conveyor.List", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe returns details for a single pipeline.
func (c *Client) Describe(id string) (*DescribeResponse, error) {
	var resp DescribeResponse
	req := DescribeRequest{ID: id}
	if err := c.client.Call("Conveyor.Describe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a pipeline.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	req := CancelRequest{ID: id}
	if err := c.client.Call("Conveyor.Cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats retrieves engine counters.
func (c *Client) Stats() (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.client.Call("Conveyor.Stats", StatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists archived pipelines.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	req := HistoryRequest{Limit: limit}
	if err := c.client.Call("Conveyor.History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Conveyor.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
