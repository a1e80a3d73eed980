package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 64
	defaultRetention = 256
	defaultPingEvery = 30 * time.Second
)

// Manager owns the device-to-connection registry. All delivery goes through
// SendToDevice; nothing outside the gateway touches sockets directly.
type Manager struct {
	log       *zap.Logger
	queueSize int
	retention int
	pingEvery time.Duration

	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
}

// NewManager constructs Manager. Zero values pick defaults.
func NewManager(log *zap.Logger, queueSize, retention int, pingEvery time.Duration) *Manager {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if pingEvery <= 0 {
		pingEvery = defaultPingEvery
	}
	return &Manager{
		log:       log,
		queueSize: queueSize,
		retention: retention,
		pingEvery: pingEvery,
		conns:     map[uuid.UUID]*Conn{},
	}
}

// Serve binds the upgraded socket to the device and pumps events until the
// connection dies. A device holds at most one connection; a newer one
// replaces and closes the previous.
func (m *Manager) Serve(ctx context.Context, ws *websocket.Conn, userID, deviceID uuid.UUID) {
	c := newConn(ws, userID, deviceID, m.queueSize, m.retention, m.pingEvery, m.log)

	m.mu.Lock()
	if prev, ok := m.conns[deviceID]; ok {
		prev.Close()
	}
	m.conns[deviceID] = c
	m.mu.Unlock()

	m.log.Info("device connected", zap.String("device_id", deviceID.String()))
	c.serve(ctx)

	m.mu.Lock()
	if m.conns[deviceID] == c {
		delete(m.conns, deviceID)
	}
	m.mu.Unlock()
	m.log.Info("device disconnected", zap.String("device_id", deviceID.String()))
}

// SendToDevice queues the event for the device's connection, if any.
// Returns false when the device is offline; the caller relies on durable
// storage plus history for those.
func (m *Manager) SendToDevice(deviceID uuid.UUID, e Event) bool {
	m.mu.Lock()
	c, ok := m.conns[deviceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.Send(e)
	return true
}

// SendToDevices fans one event out to every listed device.
func (m *Manager) SendToDevices(deviceIDs []uuid.UUID, e Event) {
	for _, id := range deviceIDs {
		m.SendToDevice(id, e)
	}
}

// Connected reports whether the device currently holds a connection.
func (m *Manager) Connected(deviceID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[deviceID]
	return ok
}

// CloseAll drops every connection, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conns {
		c.Close()
		delete(m.conns, id)
	}
}
