package ot

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// ClientMessageType is the set of messages a subscribing client may send.
type ClientMessageType string

const (
	ClientSubscribe   ClientMessageType = "subscribe"
	ClientUnsubscribe ClientMessageType = "unsubscribe"
	ClientSubmitOp    ClientMessageType = "submitOp"
)

// ClientMessage is the JSON envelope a connected client sends.
type ClientMessage struct {
	Type       ClientMessageType `json:"type"`
	Collection string            `json:"collection"`
	DocID      string            `json:"docId"`
	Version    int64             `json:"v,omitempty"`
	Ops        []types.Op        `json:"ops,omitempty"`
}

// ServerMessageType is the set of messages the server sends back.
type ServerMessageType string

const (
	ServerSnapshot ServerMessageType = "snapshot"
	ServerOp       ServerMessageType = "op"
	ServerAck      ServerMessageType = "ack"
	ServerError    ServerMessageType = "error"
)

// ServerMessage is the JSON envelope the transport writes to a client.
type ServerMessage struct {
	Type       ServerMessageType      `json:"type"`
	Collection string                 `json:"collection,omitempty"`
	DocID      string                 `json:"docId,omitempty"`
	Version    int64                  `json:"v,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Ops        []types.Op             `json:"ops,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Transport exposes Channel over a JSON WebSocket protocol: one "subscribe"
// per (collection, docId) streams a snapshot followed by every subsequent
// op until "unsubscribe" for the same pair or the connection closes;
// "submitOp" is the client write path.
type Transport struct {
	channel *Channel
}

// NewTransport wires a Transport over an already-constructed Channel.
func NewTransport(channel *Channel) *Transport {
	return &Transport{channel: channel}
}

// HandleWebSocket upgrades an HTTP request to a WebSocket connection and
// runs the subscribe/submitOp protocol for its lifetime.
func (t *Transport) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(t.handleConnection)(c)
}

// conn serializes writes to a *websocket.Conn: gofiber's underlying
// connection is not safe for concurrent writers, and this transport has
// one goroutine per active subscription plus the main read loop.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (t *Transport) handleConnection(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: ws}
	subs := make(map[string]context.CancelFunc)

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("ot transport: connection closed")
			}
			return
		}

		switch msg.Type {
		case ClientSubscribe:
			key := msg.Collection + "\x00" + msg.DocID
			if prev, ok := subs[key]; ok {
				prev()
			}
			subCtx, subCancel := context.WithCancel(ctx)
			subs[key] = subCancel
			t.handleSubscribe(subCtx, c, msg)
		case ClientUnsubscribe:
			key := msg.Collection + "\x00" + msg.DocID
			if subCancel, ok := subs[key]; ok {
				subCancel()
				delete(subs, key)
			}
		case ClientSubmitOp:
			t.handleSubmitOp(ctx, c, msg)
		default:
			_ = c.send(ServerMessage{Type: ServerError, Error: "unknown message type"})
		}
	}
}

func (t *Transport) handleSubscribe(ctx context.Context, c *conn, msg ClientMessage) {
	doc, err := t.channel.Snapshot(ctx, msg.Collection, msg.DocID)
	if err != nil {
		_ = c.send(ServerMessage{Type: ServerError, Collection: msg.Collection, DocID: msg.DocID, Error: err.Error()})
		return
	}
	if err := c.send(ServerMessage{
		Type: ServerSnapshot, Collection: msg.Collection, DocID: msg.DocID,
		Version: doc.Version, Data: doc.Data,
	}); err != nil {
		return
	}

	updates, err := t.channel.Subscribe(ctx, msg.Collection, msg.DocID)
	if err != nil {
		_ = c.send(ServerMessage{Type: ServerError, Collection: msg.Collection, DocID: msg.DocID, Error: err.Error()})
		return
	}

	go func() {
		for u := range updates {
			if err := c.send(ServerMessage{
				Type: ServerOp, Collection: msg.Collection, DocID: msg.DocID,
				Version: u.Version, Ops: u.Ops,
			}); err != nil {
				return
			}
		}
	}()
}

func (t *Transport) handleSubmitOp(ctx context.Context, c *conn, msg ClientMessage) {
	doc, err := t.channel.SubmitOp(ctx, msg.Collection, msg.DocID, msg.Version, msg.Ops)
	if err != nil {
		errMsg := ServerMessage{Type: ServerError, Collection: msg.Collection, DocID: msg.DocID, Error: err.Error()}
		if ee, ok := err.(*engineerr.Error); ok && ee.Code == engineerr.CodeVersionConflict {
			if current, ok := ee.Details["current"].(int64); ok {
				errMsg.Version = current
			}
		}
		_ = c.send(errMsg)
		return
	}
	_ = c.send(ServerMessage{Type: ServerAck, Collection: msg.Collection, DocID: msg.DocID, Version: doc.Version})
}
