// Package client speaks the procguard control protocol from the side of
// a process that spawns children.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tiancaiamao/procguard/pkg/rpc"
)

// ErrRejected is returned when the daemon refuses a registration.
var ErrRejected = errors.New("rejected by procguard")

// Client is a connection to the daemon. Requests on one client are
// serialized; use several clients for concurrent requests.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes cmd without waiting for a reply.
func (c *Client) Send(cmd rpc.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(cmd)
}

// Register asks for a slot for pid and waits until it is granted or
// refused. Waiting has no limit other than ctx.
func (c *Client) Register(ctx context.Context, pid int32, command string, args []string) error {
	reply, err := c.roundTrip(ctx, rpc.NewRegisterCommand(pid, command, args), func(r rpc.Reply) bool {
		switch r.Type {
		case rpc.ReplyRegistered:
			return r.Registered.Pid == pid
		case rpc.ReplyError:
			return r.Error.Pid == pid
		}
		return false
	})
	if err != nil {
		return err
	}
	if reply.Type == rpc.ReplyError {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error.Message)
	}
	return nil
}

// Unregister returns the slot held by pid. It reports whether a slot was
// actually released.
func (c *Client) Unregister(ctx context.Context, pid int32) (bool, error) {
	reply, err := c.roundTrip(ctx, rpc.NewUnregisterCommand(pid), func(r rpc.Reply) bool {
		return r.Type == rpc.ReplyUnregistered && r.Unregistered.Pid == pid
	})
	if err != nil {
		return false, err
	}
	return reply.Unregistered.Released, nil
}

// Status queries the current admission state.
func (c *Client) Status(ctx context.Context) (rpc.Status, error) {
	reply, err := c.roundTrip(ctx, rpc.NewQueryStatusCommand(), func(r rpc.Reply) bool {
		return r.Type == rpc.ReplyStatus
	})
	if err != nil {
		return rpc.Status{}, err
	}
	return *reply.Status, nil
}

// roundTrip sends cmd and reads replies until match accepts one.
// Unrelated replies are skipped.
func (c *Client) roundTrip(ctx context.Context, cmd rpc.Command, match func(rpc.Reply) bool) (rpc.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := c.write(cmd); err != nil {
		return rpc.Reply{}, err
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return rpc.Reply{}, ctx.Err()
			}
			if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
				return rpc.Reply{}, context.DeadlineExceeded
			}
			return rpc.Reply{}, fmt.Errorf("failed to read reply: %w", err)
		}

		var reply rpc.Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			return rpc.Reply{}, fmt.Errorf("failed to parse reply: %w", err)
		}
		if match(reply) {
			return reply, nil
		}
	}
}

func (c *Client) write(cmd rpc.Command) error {
	data, err := rpc.EncodeLine(cmd)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}
	return nil
}
