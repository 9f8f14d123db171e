package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowaste/internal/types"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Recipient
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, to Recipient, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to)
	return r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMulti_CallsEveryChannel(t *testing.T) {
	boom := errors.New("smtp down")
	a := &recordingNotifier{}
	b := &recordingNotifier{err: boom}
	c := &recordingNotifier{}

	err := Multi{a, b, c}.Notify(context.Background(), Recipient{UserID: "u1"}, "s", "b")

	require.ErrorIs(t, err, boom)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
	assert.Len(t, c.sent, 1)
}

func TestSend_SwallowsFailure(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("unreachable")}
	ok := Send(context.Background(), failing, discardLogger(), Recipient{UserID: "u1"}, "s", "b")
	assert.False(t, ok)

	ok = Send(context.Background(), &recordingNotifier{}, discardLogger(), Recipient{UserID: "u1"}, "s", "b")
	assert.True(t, ok)

	assert.False(t, Send(context.Background(), nil, discardLogger(), Recipient{}, "s", "b"))
}

func TestHub_DeliversToConnectedUser(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, types.ID(r.URL.Query().Get("uid")))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?uid=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected("u1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), Recipient{UserID: "u2"}, "other", "ignored"))
	require.NoError(t, hub.Notify(context.Background(), Recipient{UserID: "u1"}, "Request accepted", "pickup at 10:00"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "Request accepted")
	assert.Contains(t, string(msg), "pickup at 10:00")
}

func TestFCM_SkipsRecipientsWithoutDeviceToken(t *testing.T) {
	fcm := NewFCM(nil, discardLogger())
	inApp := &recordingNotifier{}
	channels := Multi{inApp, fcm, Log{Logger: discardLogger()}}

	for _, to := range []Recipient{
		{UserID: "alice"},
		{UserID: "bob", Address: "bob@example.org"},
	} {
		ok := Send(context.Background(), channels, discardLogger(), to, "Request accepted", "see you at 10")
		assert.True(t, ok, to.UserID)
	}
	assert.Len(t, inApp.sent, 2)
}

func TestRecipient_DeviceToken(t *testing.T) {
	assert.Equal(t, "", Recipient{}.DeviceToken())
	assert.Equal(t, "", Recipient{Address: "x@y.z"}.DeviceToken())
	assert.Equal(t, "fcm-token-1", Recipient{Address: "fcm-token-1"}.DeviceToken())
}
