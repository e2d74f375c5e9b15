package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// defaultWriteTimeout bounds a single frame write.
const defaultWriteTimeout = 5 * time.Second

// peer serializes writes to one websocket connection. An audio header and its
// binary frame are always written back to back.
type peer struct {
	conn         *websocket.Conn
	ctx          context.Context
	writeTimeout time.Duration

	mu sync.Mutex
}

func newPeer(ctx context.Context, conn *websocket.Conn, writeTimeout time.Duration) *peer {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &peer{conn: conn, ctx: ctx, writeTimeout: writeTimeout}
}

// send writes v as a JSON text frame.
func (p *peer) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal %T: %w", v, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(websocket.MessageText, data)
}

// sendClip writes the audio header followed by the clip payload.
func (p *peer) sendClip(hdr AudioHeader, data []byte) error {
	head, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("gateway: marshal audio header: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(websocket.MessageText, head); err != nil {
		return err
	}
	return p.write(websocket.MessageBinary, data)
}

// write must be called with p.mu held.
func (p *peer) write(typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.writeTimeout)
	defer cancel()
	if err := p.conn.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("gateway: write: %w", err)
	}
	return nil
}
