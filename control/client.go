// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package control

import (
	"context"
	"fmt"
	"net"
)

// RemoteError is an error reported by the Listener.
type RemoteError string

// Error implements the error interface.
func (e RemoteError) Error() string {
	return fmt.Sprintf("control: remote error: %s", string(e))
}

// Client is a connection to a Listener.
type Client struct {
	conn net.Conn
}

// Dial connects to the Listener at the unix socket path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Do sends action and waits for the response.  A response carrying an
// error is returned along with a RemoteError.
func (c *Client) Do(ctx context.Context, action string) (*Response, error) {
	// The zero deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := writeMessage(c.conn, &Request{Action: action}); err != nil {
		return nil, err
	}
	resp := new(Response)
	if err := readMessage(c.conn, resp); err != nil {
		return nil, err
	}
	if resp.Err != "" {
		return resp, RemoteError(resp.Err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
