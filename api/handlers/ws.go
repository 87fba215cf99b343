package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/api"
	"github.com/fretelli/AIWendy/roundtable"
	"github.com/fretelli/AIWendy/types"
)

// wsConn wraps a websocket connection with a write lock. WebSocket does not
// support concurrent writes.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// HandleExchangeWS serves GET /api/v1/exchange/ws. The client sends one JSON
// exchange request as its first frame; the server answers with one JSON text
// frame per exchange event and then closes the connection. Errors before the
// stream starts arrive as a single error event.
func (h *ExchangeHandler) HandleExchangeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	ctx := r.Context()
	wc := &wsConn{conn: conn}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "expected request frame")
		return
	}
	var req api.ExchangeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.closeWithError(ctx, wc, types.NewError(types.ErrInvalidRequest, "malformed request"))
		return
	}
	if apiErr := validateExchange(&req); apiErr != nil {
		h.closeWithError(ctx, wc, apiErr)
		return
	}

	ex, apiErr := h.prepare(ctx, &req, r.Header.Get("X-Request-ID"))
	if apiErr != nil {
		h.closeWithError(ctx, wc, apiErr)
		return
	}

	events, err := h.runner.Run(ctx, ex.session, ex.history, ex.opts)
	if err != nil {
		h.closeWithError(ctx, wc, asAPIError(err, "exchange failed to start"))
		return
	}

	rounds := 0
	for ev := range events {
		if ev.Type == roundtable.EventRoundEnd {
			rounds++
		}
		if err := wc.writeJSON(ctx, ev); err != nil {
			h.logger.Warn("websocket write failed", zap.Error(err))
			break
		}
	}
	if rounds > 0 {
		ex.bumpRounds(rounds)
	}

	conn.Close(websocket.StatusNormalClosure, "exchange complete")
}

// closeWithError sends a terminal error event and closes the connection.
func (h *ExchangeHandler) closeWithError(ctx context.Context, wc *wsConn, apiErr *types.Error) {
	ev := roundtable.Event{Type: roundtable.EventError, Message: apiErr.Message}
	if err := wc.writeJSON(ctx, ev); err != nil {
		h.logger.Warn("websocket error write failed", zap.Error(err))
	}
	wc.conn.Close(websocket.StatusNormalClosure, string(apiErr.Code))
}
