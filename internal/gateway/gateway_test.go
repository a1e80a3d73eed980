package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quietwire/relay/internal/model"
)

var testUpgrader = websocket.Upgrader{}

// dialManager serves deviceID through m on an httptest server and returns the
// client side of the stream.
func dialManager(t *testing.T, m *Manager, userID, deviceID uuid.UUID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Serve(r.Context(), ws, userID, deviceID)
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool { return m.Connected(deviceID) },
		time.Second, 5*time.Millisecond)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func sendReplay(t *testing.T, ws *websocket.Conn, after uint64) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(fmt.Sprintf(`{"replay": %d}`, after))))
}

func testMessageEvent(t *testing.T, n byte) Event {
	t.Helper()
	m := &model.Message{ID: mustV7(t), ChannelID: mustV7(t), SenderID: mustV7(t), SenderDeviceID: mustV7(t)}
	return NewMessageEvent(m, model.MessagePayload{
		MessageID:         m.ID,
		RecipientDeviceID: mustV7(t),
		Ciphertext:        []byte{n},
	})
}

func mustV7(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func TestConn_CounterSequence(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	for i := byte(0); i < 3; i++ {
		require.True(t, m.SendToDevice(deviceID, testMessageEvent(t, i)))
	}

	for i := uint64(0); i < 3; i++ {
		f := readFrame(t, ws)
		require.Equal(t, i, f.Counter)
		require.Equal(t, EventMessage, f.Event.Type)
		require.Equal(t, []byte{byte(i)}, f.Event.Message.Ciphertext)
	}
}

func TestConn_ReplayResendsAfterCounter(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	sent := make([]Event, 5)
	for i := range sent {
		sent[i] = testMessageEvent(t, byte(i))
		m.SendToDevice(deviceID, sent[i])
	}
	for i := 0; i < 5; i++ {
		readFrame(t, ws)
	}

	// Everything after counter 1, once each, in order.
	sendReplay(t, ws, 1)
	for i := uint64(2); i < 5; i++ {
		f := readFrame(t, ws)
		require.Equal(t, i, f.Counter)
		require.Equal(t, sent[i].Message.MessageID, f.Event.Message.MessageID)
	}

	// The live counter is unaffected by replay.
	m.SendToDevice(deviceID, testMessageEvent(t, 9))
	f := readFrame(t, ws)
	require.Equal(t, uint64(5), f.Counter)
}

func TestConn_ReplayBeyondRetentionSignalsResync(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 2, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	for i := byte(0); i < 5; i++ {
		m.SendToDevice(deviceID, testMessageEvent(t, i))
	}
	for i := 0; i < 5; i++ {
		readFrame(t, ws)
	}

	// Only counters 3 and 4 are retained; a gap back to 0 cannot be replayed.
	sendReplay(t, ws, 0)
	f := readFrame(t, ws)
	require.Equal(t, EventResync, f.Event.Type)
	require.Equal(t, uint64(5), f.Counter)
}

func TestConn_ReplayOnFreshConnectionSignalsResync(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	// Counters restart per connection; a cursor from a previous life is
	// unknown here and must trigger resync, not silence.
	sendReplay(t, ws, 7)
	f := readFrame(t, ws)
	require.Equal(t, EventResync, f.Event.Type)
}

func TestConn_MalformedFrameClosesConnection(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return !m.Connected(deviceID) },
		time.Second, 5*time.Millisecond)
}

func TestConn_Ping(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, 20*time.Millisecond)
	userID, deviceID := mustV7(t), mustV7(t)
	ws := dialManager(t, m, userID, deviceID)

	f := readFrame(t, ws)
	require.Equal(t, EventPing, f.Event.Type)
	require.Equal(t, uint64(0), f.Counter)
}

func TestManager_SecondConnectionReplacesFirst(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	userID, deviceID := mustV7(t), mustV7(t)

	first := dialManager(t, m, userID, deviceID)
	second := dialManager(t, m, userID, deviceID)

	// The first stream is closed by the replacement.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	require.True(t, m.SendToDevice(deviceID, testMessageEvent(t, 1)))
	f := readFrame(t, second)
	require.Equal(t, uint64(0), f.Counter)
	require.Equal(t, EventMessage, f.Event.Type)
}

func TestManager_SendToOfflineDevice(t *testing.T) {
	m := NewManager(zap.NewNop(), 16, 16, time.Hour)
	require.False(t, m.SendToDevice(mustV7(t), testMessageEvent(t, 1)))
}

func TestConn_SlowConsumerDropped(t *testing.T) {
	userID, deviceID := mustV7(t), mustV7(t)
	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Queue of one and no write loop draining it.
		connCh <- newConn(ws, userID, deviceID, 1, 4, time.Hour, zap.NewNop())
	}))
	t.Cleanup(srv.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	c := <-connCh
	c.Send(testMessageEvent(t, 1))
	c.Send(testMessageEvent(t, 2)) // overflow closes the connection

	select {
	case <-c.done:
	default:
		t.Fatal("slow consumer was not dropped")
	}
}

func TestEventLog_Since(t *testing.T) {
	l := eventLog{size: 3}
	for i := 0; i < 5; i++ {
		l.push([]byte{byte(i)})
	}
	// Retained: 2, 3, 4.

	frames, ok := l.since(1)
	require.True(t, ok)
	require.Len(t, frames, 3)
	require.Equal(t, uint64(2), frames[0].counter)

	frames, ok = l.since(4)
	require.True(t, ok)
	require.Empty(t, frames)

	_, ok = l.since(0) // counter 1 already evicted
	require.False(t, ok)

	_, ok = l.since(9) // never issued
	require.False(t, ok)
}
