package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caretrust/auditchain/pkg/alert"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long a silent peer survives.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// heartbeatPeriod spaces the application-level heartbeat frames.
	heartbeatPeriod = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsFrame is the single frame shape for both directions of the alert
// stream. Type selects which fields are meaningful.
type wsFrame struct {
	Type string `json:"type"`

	// subscribe (inbound)
	SubscriberID  string `json:"subscriber_id,omitempty"`
	SinceSequence uint64 `json:"since_sequence,omitempty"`

	// ack (inbound)
	Sequence uint64 `json:"sequence,omitempty"`

	// alert (outbound)
	Alert *alert.Alert `json:"alert,omitempty"`

	// heartbeat (outbound)
	HeadSequence uint64 `json:"head_sequence,omitempty"`

	// error (outbound)
	Detail string `json:"detail,omitempty"`
}

// handleStream upgrades to a websocket and speaks the alert protocol:
// the client opens with a subscribe frame, then receives alert and
// heartbeat frames and may send ack frames at any time. Ledger appends
// continue unaffected whatever happens on this connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.dist == nil {
		WriteNotFound(w, "alert streaming is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// First frame must subscribe.
	var first wsFrame
	if err := conn.ReadJSON(&first); err != nil || first.Type != "subscribe" || first.SubscriberID == "" {
		_ = writeFrame(conn, wsFrame{Type: "error", Detail: "first frame must be a subscribe with subscriber_id"})
		return
	}

	sub, err := s.dist.Subscribe(r.Context(), first.SubscriberID, first.SinceSequence)
	if err != nil {
		s.log.Warn("alert subscribe failed", "subscriber", first.SubscriberID, "error", err)
		_ = writeFrame(conn, wsFrame{Type: "error", Detail: "subscription failed"})
		return
	}
	defer s.dist.Unsubscribe(first.SubscriberID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readAcks(ctx, cancel, conn, first.SubscriberID)
	s.writeAlerts(ctx, conn, sub)
}

// readAcks consumes inbound frames until the connection dies. Only ack
// frames are meaningful after the subscribe.
func (s *Server) readAcks(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, subscriberID string) {
	defer cancel()
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "ack" {
			continue
		}
		if err := s.dist.Ack(ctx, subscriberID, frame.Sequence); err != nil {
			s.log.Warn("ack persistence failed",
				"subscriber", subscriberID,
				"sequence", frame.Sequence,
				"error", err)
		}
	}
}

// writeAlerts owns the write side of the connection: alerts from the
// subscription, heartbeats and pings all go through here.
func (s *Server) writeAlerts(ctx context.Context, conn *websocket.Conn, sub *alert.Subscription) {
	alerts := make(chan alert.Alert)
	go func() {
		defer close(alerts)
		for {
			a, err := sub.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case alerts <- a:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case a, ok := <-alerts:
			if !ok {
				return
			}
			if err := writeFrame(conn, wsFrame{Type: "alert", Alert: &a}); err != nil {
				return
			}
		case <-heartbeat.C:
			seq, _ := s.svc.Head()
			if err := writeFrame(conn, wsFrame{Type: "heartbeat", HeadSequence: seq}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
