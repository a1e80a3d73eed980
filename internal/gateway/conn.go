package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 10 // inbound frames are tiny replay requests
)

// retained is one already-encoded frame kept for replay.
type retained struct {
	counter uint64
	data    []byte
}

// eventLog assigns counters and keeps the last `size` frames for replay.
// Owned by the write loop, no locking.
type eventLog struct {
	size int
	next uint64
	buf  []retained
}

func (l *eventLog) push(data []byte) uint64 {
	c := l.next
	l.next++
	l.buf = append(l.buf, retained{counter: c, data: data})
	if len(l.buf) > l.size {
		l.buf = l.buf[1:]
	}
	return c
}

// since returns retained frames with counter > after, in order. ok is false
// when the gap exceeds retention (or the counter was never issued here) and
// the client must resync instead.
func (l *eventLog) since(after uint64) ([]retained, bool) {
	if after >= l.next {
		return nil, false
	}
	if len(l.buf) > 0 && l.buf[0].counter > after+1 {
		return nil, false
	}
	var out []retained
	for _, f := range l.buf {
		if f.counter > after {
			out = append(out, f)
		}
	}
	return out, true
}

// Conn is one device's event stream. Events are queued with Send and written
// by a single write loop that owns the counter and the replay buffer.
type Conn struct {
	userID   uuid.UUID
	deviceID uuid.UUID
	ws       *websocket.Conn
	log      *zap.Logger

	out    chan Event
	replay chan uint64

	pingEvery time.Duration
	retention int

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, userID, deviceID uuid.UUID, queueSize, retention int, pingEvery time.Duration, log *zap.Logger) *Conn {
	return &Conn{
		userID:    userID,
		deviceID:  deviceID,
		ws:        ws,
		log:       log,
		out:       make(chan Event, queueSize),
		replay:    make(chan uint64, 1),
		pingEvery: pingEvery,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Send queues an event without blocking. A full queue means the client is not
// keeping up; the connection is dropped so it cannot stall anyone else, and
// the device recovers through history on reconnect.
func (c *Conn) Send(e Event) {
	select {
	case c.out <- e:
	case <-c.done:
	default:
		c.log.Warn("outbound queue full, dropping connection",
			zap.String("device_id", c.deviceID.String()))
		c.Close()
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// serve runs the pumps until the peer goes away or ctx is cancelled.
// The retained-event buffer dies with the connection.
func (c *Conn) serve(ctx context.Context) {
	defer c.Close()
	go c.readLoop()
	c.writeLoop(ctx)
}

// readLoop accepts replay requests only. Anything else is a protocol error
// and closes the connection.
func (c *Conn) readLoop() {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var req ReplayRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Replay == nil {
			c.log.Debug("malformed frame, closing",
				zap.String("device_id", c.deviceID.String()))
			return
		}
		select {
		case c.replay <- *req.Replay:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()

	elog := eventLog{size: c.retention}

	writeNew := func(e Event) error {
		data, err := encodeFrame(elog.next, e)
		if err != nil {
			return err
		}
		elog.push(data)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		return c.ws.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case e := <-c.out:
			if err := writeNew(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeNew(pingEvent()); err != nil {
				return
			}
		case after := <-c.replay:
			frames, ok := elog.since(after)
			if !ok {
				// Gap wider than retention: partial replay would lose
				// events, tell the client to refetch instead.
				if err := writeNew(resyncEvent()); err != nil {
					return
				}
				continue
			}
			for _, f := range frames {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
					return
				}
			}
		}
	}
}
