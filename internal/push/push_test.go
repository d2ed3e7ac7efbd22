package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestStreamURL(t *testing.T) {
	d := NewDialer("ws://127.0.0.1:8000")
	if got := d.StreamURL(5, ""); got != "ws://127.0.0.1:8000/ws/comments/5/" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := d.StreamURL(5, "a.b+c"); got != "ws://127.0.0.1:8000/ws/comments/5/?token=a.b%2Bc" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestDialReceivesEnvelopes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/comments/1/" || r.URL.Query().Get("token") != "acc" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_reply","data":{"id":10,"reply":1}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","data":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	conn, err := NewDialer(wsURL(ts)).Dial(context.Background(), 1, "acc")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env, err := conn.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if env.Type != "new_reply" {
		t.Fatalf("unexpected type %q", env.Type)
	}
	var payload struct {
		ID    int64 `json:"id"`
		Reply int64 `json:"reply"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ID != 10 || payload.Reply != 1 {
		t.Fatalf("unexpected payload %s (%v)", env.Data, err)
	}

	env, err = conn.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if env.Type != "typing" {
		t.Fatalf("expected invalid frame to be skipped, got %q", env.Type)
	}
}

func TestDialRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := NewDialer(wsURL(ts)).Dial(context.Background(), 1, "")
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	conn, err := NewDialer(wsURL(ts)).Dial(context.Background(), 2, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Next()
		errc <- err
	}()

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDialHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewDialer("ws://127.0.0.1:1").Dial(ctx, 1, ""); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
