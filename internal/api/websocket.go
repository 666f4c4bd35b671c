package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
	"github.com/thereceipt/pos-printer/internal/state"
)

// WebSocket message types. Store events are forwarded under their own
// names (state, device_found, reconnect_prompt, ...).
const (
	EventSnapshot     = "snapshot"
	EventPrintReceipt = "print_receipt"
	EventPrintKOT     = "print_kot"
	EventResponse     = "response"
	EventError        = "error"
)

const writeWait = 10 * time.Second

// WSMessage represents an outgoing WebSocket message
type WSMessage struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// wsRequest is an incoming message; ID is echoed in the reply
type wsRequest struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn        *websocket.Conn
	send        chan WSMessage
	events      <-chan state.Event
	unsubscribe func()
	server      *Server
	ctx         context.Context
	cancel      context.CancelFunc
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	events, unsubscribe := s.store.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())

	client := &WSClient{
		conn:        conn,
		send:        make(chan WSMessage, 256),
		events:      events,
		unsubscribe: unsubscribe,
		server:      s,
		ctx:         ctx,
		cancel:      cancel,
	}

	log.Info().Str("remote", c.Request.RemoteAddr).Msg("WebSocket client connected")

	client.send <- WSMessage{Event: EventSnapshot, Data: s.store.Snapshot()}

	// Start goroutines
	go client.readPump()
	go client.writePump()
}

func (c *WSClient) write(msg WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				c.cancel()
				return
			}
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if err := c.write(WSMessage{Event: string(ev.Type), Data: ev.Data}); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.cancel()
		c.unsubscribe()
		c.conn.Close()
		log.Info().Msg("WebSocket client disconnected")
	}()

	for {
		var msg wsRequest
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *wsRequest) {
	switch msg.Event {
	case EventPrintReceipt:
		go c.handlePrintEvent(msg.ID, command.KindReceipt, msg.Data)
	case EventPrintKOT:
		go c.handlePrintEvent(msg.ID, command.KindKOT, msg.Data)
	default:
		c.sendError(msg.ID, fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

func (c *WSClient) handlePrintEvent(id, kind string, data json.RawMessage) {
	var req printRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(id, fmt.Sprintf("invalid print request: %v", err))
		return
	}
	if req.Order == nil {
		c.sendError(id, "order is required")
		return
	}
	if err := receipt.Validate(req.Order); err != nil {
		c.sendError(id, fmt.Sprintf("order validation failed: %v", err))
		return
	}
	apply, err := req.overrides()
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	job, err := c.server.executor.PrintOrder(c.ctx, kind, req.Order, apply)
	if err != nil {
		resp := map[string]interface{}{
			"success": false,
			"error":   printer.UserMessage(err),
		}
		if job != nil {
			resp["job_id"] = job.ID
		}
		c.sendResponse(id, resp)
		return
	}

	c.sendResponse(id, map[string]interface{}{
		"success": true,
		"job_id":  job.ID,
	})
}

func (c *WSClient) queue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

func (c *WSClient) sendResponse(id string, data map[string]interface{}) {
	c.queue(WSMessage{
		Event: EventResponse,
		ID:    id,
		Data:  data,
	})
}

func (c *WSClient) sendError(id, message string) {
	c.queue(WSMessage{
		Event: EventError,
		ID:    id,
		Data: map[string]interface{}{
			"error": message,
		},
	})
}
