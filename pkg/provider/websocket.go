package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsProtocolVersion = "2025-06-18"

// JSON-RPC 2.0 envelopes
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      *int64 `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// wsConnection speaks JSON-RPC over one persistent websocket. Responses are
// matched to requests by id; a read loop owns the socket's read side.
type wsConnection struct {
	lifecycle
	id      string
	timeout time.Duration
	conn    *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *rpcResponse
	done    chan struct{}
}

func dialWebsocket(ctx context.Context, cfg Config) (*wsConnection, error) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	ws := &wsConnection{
		id:      cfg.ID,
		timeout: cfg.timeout(),
		conn:    conn,
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
	}
	ws.set(StateConnecting)
	go ws.listen()

	if err := ws.initialize(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	ws.set(StateConnected)
	log.Debug().Str("provider", cfg.ID).Str("transport", string(TransportWebsocket)).Msg("Provider connected")
	return ws, nil
}

func (w *wsConnection) ID() string           { return w.id }
func (w *wsConnection) Transport() Transport { return TransportWebsocket }

func (w *wsConnection) listen() {
	defer close(w.done)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("provider", w.id).Msg("Provider stream closed unexpectedly")
			}
			w.set(StateDisconnected)
			w.failPending()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warn().Err(err).Str("provider", w.id).Msg("Failed to decode provider message")
			continue
		}
		// Server notifications and requests carry no id we are waiting on.
		if resp.ID == nil {
			continue
		}

		w.mu.Lock()
		ch, ok := w.pending[*resp.ID]
		if ok {
			delete(w.pending, *resp.ID)
		}
		w.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (w *wsConnection) failPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

func (w *wsConnection) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	ch := make(chan *rpcResponse, 1)
	w.pending[id] = ch
	w.mu.Unlock()

	forget := func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}

	if err := w.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: &id}); err != nil {
		forget()
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("%s: request timed out after %s", method, w.timeout)
	}
}

func (w *wsConnection) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": wsProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    ClientName,
			"version": ClientVersion,
		},
	}
	if _, err := w.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := w.write(rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (w *wsConnection) ListTools(ctx context.Context) ([]Tool, error) {
	if err := w.usable(); err != nil {
		return nil, err
	}

	raw, err := w.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listResult); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}

	tools := make([]Tool, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  normalizeSchema(t.InputSchema),
			Provider:    w.id,
		})
	}
	return tools, nil
}

func (w *wsConnection) Call(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if err := w.usable(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	raw, err := w.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	var callResult struct {
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			MimeType string `json:"mimeType"`
		} `json:"content"`
		StructuredContent any  `json:"structuredContent"`
		IsError           bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &callResult); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var parts []string
	for _, c := range callResult.Content {
		switch c.Type {
		case "text":
			parts = append(parts, c.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image %s]", c.MimeType))
		}
	}
	return &Result{
		Text:       strings.Join(parts, "\n"),
		Structured: callResult.StructuredContent,
		IsError:    callResult.IsError,
	}, nil
}

func (w *wsConnection) Close() error {
	if !w.markClosed() {
		return nil
	}
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	err := w.conn.Close()
	<-w.done
	return err
}
