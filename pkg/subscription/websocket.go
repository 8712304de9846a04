package subscription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AccountUpdateHandler receives raw account bytes for a subscribed address.
type AccountUpdateHandler func(address solana.PublicKey, data []byte, slot uint64)

// Notifier is the push transport the hub depends on.
type Notifier interface {
	SubscribeAccount(address solana.PublicKey, handler AccountUpdateHandler) (uint64, error)
	Unsubscribe(id uint64) error
}

// WebSocketClient speaks the ledger's JSON-RPC pubsub protocol over a single
// websocket. It reconnects on read failure and replays every live
// subscription once the connection is back.
type WebSocketClient struct {
	url            string
	commitment     string
	conn           *websocket.Conn
	writeMu        sync.Mutex
	mu             sync.RWMutex
	subscriptions  map[uint64]*accountSubscription
	// unconfirmed subscriptions released before the server acknowledged
	// them; accountUnsubscribe is sent when the ack arrives
	pendingRelease map[uint64]struct{}
	nextID         uint64
	reconnectDelay time.Duration
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	connected      bool
}

type accountSubscription struct {
	id      uint64
	address solana.PublicKey
	remote  uint64 // server-side subscription id, zero until confirmed
	handler AccountUpdateHandler
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  *notification   `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	Result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Data     []string `json:"data"` // [payload, encoding]
			Lamports uint64   `json:"lamports"`
			Owner    string   `json:"owner"`
		} `json:"value"`
	} `json:"result"`
	Subscription uint64 `json:"subscription"`
}

type WebSocketOption func(*WebSocketClient)

func WithLogger(logger *zap.Logger) WebSocketOption {
	return func(c *WebSocketClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithReconnectDelay(d time.Duration) WebSocketOption {
	return func(c *WebSocketClient) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithCommitment sets the commitment level; "confirmed" by default.
func WithCommitment(commitment string) WebSocketOption {
	return func(c *WebSocketClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// NewWebSocketClient dials wsURL and starts the read and reconnect loops.
// Both stop when ctx is cancelled or Close is called.
func NewWebSocketClient(ctx context.Context, wsURL string, opts ...WebSocketOption) (*WebSocketClient, error) {
	clientCtx, cancel := context.WithCancel(ctx)

	client := &WebSocketClient{
		url:            wsURL,
		commitment:     "confirmed",
		subscriptions:  make(map[uint64]*accountSubscription),
		pendingRelease: make(map[uint64]struct{}),
		reconnectDelay: 5 * time.Second,
		logger:         zap.NewNop(),
		ctx:            clientCtx,
		cancel:         cancel,
		nextID:         1,
	}
	for _, opt := range opts {
		opt(client)
	}

	if err := client.connect(); err != nil {
		cancel()
		return nil, err
	}

	go client.readMessages()
	go client.handleReconnection()

	return client, nil
}

func (c *WebSocketClient) connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("websocket connected", zap.String("url", c.url))
	return nil
}

// SubscribeAccount registers handler for address. The returned id is local to
// this client and stays valid across reconnects.
func (c *WebSocketClient) SubscribeAccount(address solana.PublicKey, handler AccountUpdateHandler) (uint64, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscriptions[id] = &accountSubscription{id: id, address: address, handler: handler}
	c.mu.Unlock()

	if err := c.send(c.subscribeRequest(id, address)); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, id)
		c.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// Unsubscribe removes a subscription. Notifications for it that are already
// in flight are dropped. A subscription the server has not confirmed yet is
// released on the server once its confirmation arrives.
func (c *WebSocketClient) Unsubscribe(id uint64) error {
	c.mu.Lock()
	sub, exists := c.subscriptions[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("subscription not found: %d", id)
	}
	delete(c.subscriptions, id)
	remote := sub.remote
	if remote == 0 {
		c.pendingRelease[id] = struct{}{}
	}
	c.mu.Unlock()

	if remote == 0 {
		return nil
	}
	return c.unsubscribeRemote(id, remote)
}

func (c *WebSocketClient) unsubscribeRemote(id, remote uint64) error {
	return c.send(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountUnsubscribe",
		Params:  []interface{}{remote},
	})
}

func (c *WebSocketClient) subscribeRequest(id uint64, address solana.PublicKey) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []interface{}{
			address.String(),
			map[string]interface{}{
				"encoding":   "base64",
				"commitment": c.commitment,
			},
		},
	}
}

func (c *WebSocketClient) send(req rpcRequest) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) readMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("websocket read failed", zap.Error(err))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.connected = false
			}
			c.mu.Unlock()
			conn.Close()
			continue
		}

		c.handleMessage(message)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg rpcResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("failed to parse websocket message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "accountNotification" && msg.Params != nil:
		c.handleAccountNotification(msg.Params)
	case msg.Error != nil:
		c.mu.Lock()
		delete(c.pendingRelease, msg.ID)
		c.mu.Unlock()
		c.logger.Warn("rpc error",
			zap.Uint64("request_id", msg.ID),
			zap.Int("code", msg.Error.Code),
			zap.String("message", msg.Error.Message),
		)
	default:
		c.handleResponse(msg)
	}
}

func (c *WebSocketClient) handleResponse(msg rpcResponse) {
	var remote uint64
	if err := json.Unmarshal(msg.Result, &remote); err != nil {
		// accountUnsubscribe acknowledges with a bool.
		return
	}

	c.mu.Lock()
	if sub, exists := c.subscriptions[msg.ID]; exists {
		sub.remote = remote
		c.mu.Unlock()
		return
	}
	_, release := c.pendingRelease[msg.ID]
	delete(c.pendingRelease, msg.ID)
	c.mu.Unlock()

	if release {
		if err := c.unsubscribeRemote(msg.ID, remote); err != nil {
			c.logger.Warn("failed to release unconfirmed subscription",
				zap.Uint64("remote_id", remote),
				zap.Error(err),
			)
		}
	}
}

func (c *WebSocketClient) handleAccountNotification(n *notification) {
	c.mu.RLock()
	var sub *accountSubscription
	for _, s := range c.subscriptions {
		if s.remote == n.Subscription {
			sub = s
			break
		}
	}
	c.mu.RUnlock()

	if sub == nil {
		return
	}

	value := n.Result.Value
	if len(value.Data) < 1 {
		return
	}
	if len(value.Data) > 1 && value.Data[1] != "base64" {
		c.logger.Warn("unexpected account encoding",
			zap.String("address", sub.address.String()),
			zap.String("encoding", value.Data[1]),
		)
		return
	}
	data, err := base64.StdEncoding.DecodeString(value.Data[0])
	if err != nil {
		c.logger.Warn("failed to decode account data",
			zap.String("address", sub.address.String()),
			zap.Error(err),
		)
		return
	}

	sub.handler(sub.address, data, n.Result.Context.Slot)
}

func (c *WebSocketClient) handleReconnection() {
	ticker := time.NewTicker(c.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.IsConnected() {
				continue
			}
			c.logger.Info("attempting websocket reconnect", zap.String("url", c.url))
			if err := c.reconnect(); err != nil {
				c.logger.Warn("websocket reconnect failed", zap.Error(err))
			}
		}
	}
}

// reconnect dials again and replays every subscription. Server-side ids are
// reset so notifications are routed only after the new confirmations arrive.
func (c *WebSocketClient) reconnect() error {
	if err := c.connect(); err != nil {
		return err
	}

	c.mu.Lock()
	// the old connection took its server-side subscriptions with it
	clear(c.pendingRelease)
	subs := make([]*accountSubscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		sub.remote = 0
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.send(c.subscribeRequest(sub.id, sub.address)); err != nil {
			c.logger.Warn("failed to resubscribe",
				zap.String("address", sub.address.String()),
				zap.Error(err),
			)
		}
	}
	c.logger.Info("websocket reconnected", zap.Int("subscriptions", len(subs)))
	return nil
}

func (c *WebSocketClient) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
