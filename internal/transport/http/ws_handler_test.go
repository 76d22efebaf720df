package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/marketchat/marketchat-server/internal/chat"
	"github.com/marketchat/marketchat-server/internal/core"
	"github.com/marketchat/marketchat-server/internal/proto"
)

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readOutbound(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Outbound {
	t.Helper()
	var outbound proto.Outbound
	if err := wsjson.Read(ctx, conn, &outbound); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return outbound
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocketJoinAndReceiveMessage(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	customerID := uuid.NewString()
	vendorID := uuid.NewString()
	customerToken := env.token(t, customerID, "customer")
	vendorToken := env.token(t, vendorID, "vendor")

	// Conversation comes from the REST surface, events from the socket.
	resp := env.do(t, http.MethodPost, "/api/conversations", customerToken,
		CreateConversationRequest{VendorID: vendorID})
	var conv chat.ConversationView
	decodeEnvelope(t, resp, &conv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	vendorConn := dialWS(t, ctx, ts, vendorToken)
	customerConn := dialWS(t, ctx, ts, customerToken)

	joinPayload, _ := json.Marshal(proto.JoinData{ConversationID: conv.ID})
	for _, conn := range []*websocket.Conn{vendorConn, customerConn} {
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeJoin, Data: joinPayload}); err != nil {
			t.Fatalf("send join: %v", err)
		}
		outbound := readOutbound(t, ctx, conn)
		if outbound.Type != proto.OutboundTypeEvent || outbound.Event != core.EventJoinedConversation {
			t.Fatalf("join reply = %+v", outbound)
		}
	}

	sendPayload, _ := json.Marshal(proto.SendData{ConversationID: conv.ID, Content: "hi from socket"})
	if err := wsjson.Write(ctx, customerConn, proto.Inbound{Type: proto.InboundTypeSend, Data: sendPayload}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// The vendor's first events are the room broadcast and the per-user
	// conversation signal, in either order.
	sawNewMessage := false
	for i := 0; i < 2; i++ {
		outbound := readOutbound(t, ctx, vendorConn)
		if outbound.Event == core.EventNewMessage {
			sawNewMessage = true
			data, _ := json.Marshal(outbound.Data)
			var view chat.MessageView
			if err := json.Unmarshal(data, &view); err != nil {
				t.Fatalf("unmarshal message view: %v", err)
			}
			if view.Content != "hi from socket" || view.SenderID != customerID {
				t.Fatalf("delivered view = %+v", view)
			}
		}
	}
	if !sawNewMessage {
		t.Fatal("vendor never received the new_message event")
	}
}

func TestWebSocketJoinDeniedForOutsider(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	customerToken := env.token(t, uuid.NewString(), "customer")
	resp := env.do(t, http.MethodPost, "/api/conversations", customerToken,
		CreateConversationRequest{VendorID: uuid.NewString()})
	var conv chat.ConversationView
	decodeEnvelope(t, resp, &conv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outsiderConn := dialWS(t, ctx, ts, env.token(t, uuid.NewString(), "customer"))

	joinPayload, _ := json.Marshal(proto.JoinData{ConversationID: conv.ID})
	if err := wsjson.Write(ctx, outsiderConn, proto.Inbound{Type: proto.InboundTypeJoin, Data: joinPayload}); err != nil {
		t.Fatalf("send join: %v", err)
	}

	outbound := readOutbound(t, ctx, outsiderConn)
	if outbound.Type != proto.OutboundTypeError || outbound.Error == nil || outbound.Error.Code != chat.CodeAccessDenied {
		t.Fatalf("expected access denied, got %+v", outbound)
	}
}

func TestWebSocketUnknownInboundType(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, env.token(t, uuid.NewString(), "customer"))

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "shrug"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	outbound := readOutbound(t, ctx, conn)
	if outbound.Type != proto.OutboundTypeError || outbound.Error == nil || outbound.Error.Code != chat.CodeValidation {
		t.Fatalf("expected validation error, got %+v", outbound)
	}
}
