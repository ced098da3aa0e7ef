package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/metrics"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

const (
	// Time allowed to write a request to the node
	writeWait = 10 * time.Second

	// Maximum response size accepted from a node
	maxMessageSize = 4 * 1024 * 1024
)

var (
	ErrClientClosed  = errors.New("swarm client closed")
	ErrRequestFailed = errors.New("swarm request failed")
)

// Request is one call sent to a swarm node
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response answers the Request with the same ID
type Response struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Sender is the opaque request/response channel jobs use
type Sender interface {
	Send(ctx context.Context, method string, params interface{}) (*Response, error)
}

// SwarmClient multiplexes requests over a single websocket connection,
// dialled lazily and redialled after a failure.
type SwarmClient struct {
	endpoint string
	timeout  time.Duration
	dialer   *websocket.Dialer
	logger   *utils.LogsManager

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *Response
	closed  bool

	writeMu sync.Mutex
}

// NewSwarmClient reads `swarm_endpoint` and `swarm_request_timeout`
func NewSwarmClient(cm *utils.ConfigManager, logger *utils.LogsManager) *SwarmClient {
	return &SwarmClient{
		endpoint: cm.GetConfigWithDefault("swarm_endpoint", "ws://127.0.0.1:22021/rpc"),
		timeout:  cm.GetConfigDuration("swarm_request_timeout", 10*time.Second),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger,
		pending:  make(map[string]chan *Response),
	}
}

// Send issues a request and waits for its response. A non-2xx status is
// returned as ErrRequestFailed along with the response.
func (c *SwarmClient) Send(ctx context.Context, method string, params interface{}) (*Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SwarmRequestDuration.WithLabelValues(method))

	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	req := Request{ID: uuid.New().String(), Method: method, Params: params}
	ch := make(chan *Response, 1)

	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.dropConnection(conn, err)
		return nil, fmt.Errorf("failed to send %s request: %v", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection lost waiting for %s response", method)
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return resp, fmt.Errorf("%w: %s returned %d: %s", ErrRequestFailed, method, resp.Status, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s request: %w", method, ctx.Err())
	}
}

func (c *SwarmClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial swarm node %s (status %d): %v", c.endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial swarm node %s: %v", c.endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.conn = conn
	go c.readPump(conn)

	c.logger.Debug(fmt.Sprintf("Connected to swarm node %s", c.endpoint), "network")
	return conn, nil
}

// readPump routes responses to their waiting requests
func (c *SwarmClient) readPump(conn *websocket.Conn) {
	for {
		var resp Response
		if err := conn.ReadJSON(&resp); err != nil {
			c.dropConnection(conn, err)
			return
		}

		// Delivered under the lock so dropConnection cannot close ch mid-send
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			select {
			case ch <- &resp:
			default:
			}
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug(fmt.Sprintf("Dropping response for unknown request %s", resp.ID), "network")
		}
	}
}

// dropConnection forgets conn and fails every request waiting on it
func (c *SwarmClient) dropConnection(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.conn = nil
	conn.Close()

	if !c.closed && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.logger.Warn(fmt.Sprintf("Swarm connection lost: %v", cause), "network")
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Close shuts the connection; later sends fail with ErrClientClosed
func (c *SwarmClient) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.dropConnection(conn, nil)
	return nil
}
