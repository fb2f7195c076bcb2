package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avereha/podcomm/pkg/message"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every command with its own payload, except on the first
// connection, which never replies.
func echoServer(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		silent := conns.Add(1) == 1
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if silent {
				continue
			}
			frame, err := message.UnwrapCommand(p)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, message.WrapResponse(frame)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func TestExchangeAfterCancel(t *testing.T) {
	url, conns := echoServer(t)
	ws, err := Dial(context.Background(), url, WithTimeout(2*time.Second))
	require.NoError(t, err)
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = ws.Exchange(ctx, []byte{0x01, 0x02})
	assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)

	// the interrupted connection is replaced
	reply, err := ws.Exchange(context.Background(), []byte{0x03, 0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x04}, reply)
	assert.Equal(t, int32(2), conns.Load())

	reply, err = ws.Exchange(context.Background(), []byte{0x05})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, reply)
	assert.Equal(t, int32(2), conns.Load())
}

func TestExchangeAfterClose(t *testing.T) {
	url, _ := echoServer(t)
	ws, err := Dial(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	_, err = ws.Exchange(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, ErrClosed), "error = %v", err)
}
