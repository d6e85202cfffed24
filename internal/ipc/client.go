package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
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

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Strato.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeployEnqueue records a deployment request for the target.
func (c *Client) DeployEnqueue(target string) (*DeployEnqueueResponse, error) {
	var resp DeployEnqueueResponse
	req := DeployEnqueueRequest{Target: target}
	if err := c.client.Call("Strato.DeployEnqueue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeployTrigger wakes the deploy pilot without waiting for the poll tick.
func (c *Client) DeployTrigger() (*DeployTriggerResponse, error) {
	var resp DeployTriggerResponse
	if err := c.client.Call("Strato.DeployTrigger", DeployTriggerRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeployList returns deployment history, optionally scoped to a target.
func (c *Client) DeployList(target string, limit int) (*DeployListResponse, error) {
	var resp DeployListResponse
	req := DeployListRequest{Target: target, Limit: limit}
	if err := c.client.Call("Strato.DeployList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VolumeList returns volume records optionally filtered by states.
func (c *Client) VolumeList(states []string) (*VolumeListResponse, error) {
	var resp VolumeListResponse
	req := VolumeListRequest{States: states}
	if err := c.client.Call("Strato.VolumeList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns job records optionally filtered by phases.
func (c *Client) JobList(phases []string) (*JobListResponse, error) {
	var resp JobListResponse
	req := JobListRequest{Phases: phases}
	if err := c.client.Call("Strato.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Strato.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
