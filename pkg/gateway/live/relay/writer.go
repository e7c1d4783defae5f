package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// outboundWriter drains one direction's queue onto its destination
// connection. One writer per destination keeps gorilla's single-writer rule;
// there is deliberately no priority lane, every frame leaves in the order it
// was enqueued.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	queue        <-chan frame
	pingInterval time.Duration
	writeTimeout time.Duration
}

// run writes frames until the queue closes (remaining frames are flushed and
// run returns nil), the context ends, or a write fails.
func (w *outboundWriter) run() error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case f, ok := <-w.queue:
			if !ok {
				return nil
			}
			if err := w.write(f, writeTimeout); err != nil {
				return err
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) write(f frame, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	messageType := f.messageType
	if messageType == 0 {
		messageType = websocket.TextMessage
	}
	return w.ws.WriteMessage(messageType, f.data)
}
