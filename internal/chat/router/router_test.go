package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func TestMain(m *testing.M) {
	logger.SetNewNop()
	token.SetSecret("router-test-secret")
	os.Exit(m.Run())
}

// frame 前端收到的 response 或 event
type frame struct {
	Action    string                     `json:"action"`
	RequestID string                     `json:"request_id"`
	Success   bool                       `json:"success"`
	Payload   map[string]json.RawMessage `json:"payload"`
	Error     string                     `json:"error"`
	ErrorKind domain.ErrorKind           `json:"error_kind"`
	Topic     domain.Topic               `json:"topic"`
	Operation domain.Operation           `json:"operation"`
	Row       json.RawMessage            `json:"row"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func startServer(t *testing.T) string {
	t.Helper()
	svc := app.NewChatService(config.Chat{}, app.NewMemoryStores(5*time.Second))
	require.NoError(t, svc.Start(context.Background()))

	srv := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterRoutes(srv, app.NewChatWebsocketHandler(svc))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Listener(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = svc.Close()
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr, memberID string) *wsClient {
	t.Helper()
	tok, err := token.GenerateJWT(memberID, "member", "router_test")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws?auth=%s", addr, tok), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// request 送出 request 並等待對應 request_id 的 response, 中間的 event 略過
func (c *wsClient) request(req domain.WSRequest) frame {
	c.t.Helper()
	c.seq++
	req.RequestID = fmt.Sprintf("r%d", c.seq)
	require.NoError(c.t, c.conn.WriteJSON(req))
	for {
		f := c.read()
		if f.Action != string(domain.EventAction) && f.RequestID == req.RequestID {
			return f
		}
	}
}

// waitEvent 等待符合條件的 event frame
func (c *wsClient) waitEvent(topic domain.Topic, match func(f frame) bool) frame {
	c.t.Helper()
	for {
		f := c.read()
		if f.Action == string(domain.EventAction) && f.Topic == topic && match(f) {
			return f
		}
	}
}

func TestHealthz(t *testing.T) {
	addr := startServer(t)
	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

// 測試未帶 token 或 token 錯誤時拒絕連線
func TestWebsocketRequiresToken(t *testing.T) {
	addr := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws?auth=not-a-token", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// 非 websocket 請求
	httpResp, err := http.Get("http://" + addr + "/ws?auth=x")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
}

// 測試兩個 client 透過 websocket 建立聊天室並收發訊息
func TestWebsocketConversationFlow(t *testing.T) {
	addr := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")

	resp := alice.request(domain.WSRequest{
		Action:         string(domain.CreateConversation),
		Type:           string(domain.ConversationDirect),
		ParticipantIDs: []string{"bob"},
	})
	require.True(t, resp.Success, resp.Error)
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(resp.Payload["conversation"], &conv))
	assert.Equal(t, domain.ConversationDirect, conv.Type)

	// bob 重新抓列表後才有這個聊天室
	resp = bob.request(domain.WSRequest{Action: string(domain.ListConversations)})
	require.True(t, resp.Success, resp.Error)
	var list []domain.ConversationSummary
	require.NoError(t, json.Unmarshal(resp.Payload["conversations"], &list))
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	resp = alice.request(domain.WSRequest{
		Action:         string(domain.SendMessage),
		ConversationID: conv.ID,
		Content:        "hello bob",
	})
	require.True(t, resp.Success, resp.Error)
	var sent domain.Message
	require.NoError(t, json.Unmarshal(resp.Payload["message"], &sent))

	ev := bob.waitEvent(domain.TopicMessages, func(f frame) bool { return f.Operation == domain.OpInsert })
	var got domain.Message
	require.NoError(t, json.Unmarshal(ev.Row, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello bob", got.Content)

	resp = bob.request(domain.WSRequest{Action: string(domain.SelectConversation), ConversationID: conv.ID})
	require.True(t, resp.Success, resp.Error)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(resp.Payload["messages"], &msgs))
	require.Len(t, msgs, 1)

	// alice 連線時送過 heartbeat
	resp = bob.request(domain.WSRequest{Action: string(domain.GetPresence), UserIDs: []string{"alice", "nobody"}})
	require.True(t, resp.Success, resp.Error)
	var statuses map[string]domain.PresenceStatus
	require.NoError(t, json.Unmarshal(resp.Payload["statuses"], &statuses))
	assert.Equal(t, domain.StatusOnline, statuses["alice"])
	assert.Equal(t, domain.StatusOffline, statuses["nobody"])
}

func TestWebsocketErrorResponses(t *testing.T) {
	addr := startServer(t)
	alice := dial(t, addr, "alice")

	resp := alice.request(domain.WSRequest{Action: "dance"})
	assert.False(t, resp.Success)
	assert.Equal(t, domain.KindValidation, resp.ErrorKind)

	resp = alice.request(domain.WSRequest{Action: string(domain.SendMessage), ConversationID: "missing", Content: "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, domain.KindNotFound, resp.ErrorKind)

	resp = alice.request(domain.WSRequest{Action: string(domain.Search), Query: " "})
	assert.False(t, resp.Success)
	assert.Equal(t, domain.KindValidation, resp.ErrorKind)

	// malformed json 沒有 request_id
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	for {
		f := alice.read()
		if f.Action == string(domain.EventAction) {
			continue
		}
		assert.False(t, f.Success)
		assert.Equal(t, domain.KindValidation, f.ErrorKind)
		break
	}
}
