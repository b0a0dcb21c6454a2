package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client dials a daemon's control socket and issues one request per Call.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a Client against socketPath. A zero timeout disables
// the per-call deadline.
func NewClient(socketPath string, timeout time.Duration) *Client {
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call sends method with params and unmarshals the result into out (a
// pointer), returning the daemon's error string as a Go error if the
// response carried one.
func (c *Client) Call(id, method string, params interface{}, out interface{}) error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("control: dialing %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("control: marshaling params: %w", err)
		}
	}

	req := Request{ID: id, Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("control: marshaling request: %w", err)
	}
	if _, err := conn.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("control: writing request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("control: reading response: %w", err)
		}
		return fmt.Errorf("control: connection closed with no response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("control: decoding response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("control: %s", resp.Error)
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("control: decoding result: %w", err)
		}
	}
	return nil
}
