package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics(nil)
	hub := NewHub(origins, metrics, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	// 测试中通过查询参数指定账户
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.URL.Query().Get("account"), 10, 64)
		_ = hub.Serve(w, r, id)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server, metrics
}

func dial(t *testing.T, server *httptest.Server, account int64, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?account=" + strconv.FormatInt(account, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func TestHub_NotifyNewMail(t *testing.T) {
	hub, server, metrics := startHub(t, nil)

	conn, err := dial(t, server, 7, nil)
	require.NoError(t, err)
	other, err := dial(t, server, 8, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.ClientCount(7) == 1 && hub.ClientCount(8) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WebSocketClients))

	msg := &domain.Message{
		ID:            "0f8fad5b-d9cb-469f-a165-70867728950e",
		SenderName:    "Alice",
		SenderAddress: "alice@example.org",
		Subject:       "hello",
		Date:          time.Unix(1700000000, 0),
	}
	hub.NotifyNewMail(context.Background(), 7, msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, MessageTypeNewMail, got.Type)

	var data NewMailData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, msg.ID, data.Key)
	assert.Equal(t, "Alice <alice@example.org>", data.Sender)
	assert.Equal(t, int64(1700000000), data.Date)
	assert.Equal(t, "hello", data.Subject)

	// 其他账户收不到
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, server, metrics := startHub(t, nil)

	conn, err := dial(t, server, 3, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount(3) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount(3) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.WebSocketClients))
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, server, _ := startHub(t, []string{"https://tethbox.test"})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, err := dial(t, server, 1, header)
	assert.Error(t, err)

	header.Set("Origin", "https://tethbox.test")
	_, err = dial(t, server, 1, header)
	assert.NoError(t, err)
}

type fakePublisher struct {
	accountID int64
	payload   []byte
	err       error
}

func (p *fakePublisher) PublishNewMail(_ context.Context, accountID int64, payload []byte) error {
	p.accountID = accountID
	p.payload = payload
	return p.err
}

func TestRelay_PublishesEncodedEvent(t *testing.T) {
	pub := &fakePublisher{}
	relay := NewRelay(pub, zap.NewNop())

	relay.NotifyNewMail(context.Background(), 42, &domain.Message{ID: "m1", Subject: "s"})
	assert.Equal(t, int64(42), pub.accountID)

	var got Message
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, MessageTypeNewMail, got.Type)

	// 发布失败不会 panic
	pub.err = errors.New("redis down")
	relay.NotifyNewMail(context.Background(), 42, &domain.Message{ID: "m2"})
}
