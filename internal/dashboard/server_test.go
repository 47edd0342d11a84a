package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "raffleflow/config"
	"raffleflow/ledger"
	"raffleflow/models"
	"raffleflow/service"
	"raffleflow/store"
)

type staticRefresher struct{ count int }

func (s *staticRefresher) Refresh(ctx context.Context) error { return nil }
func (s *staticRefresher) Count() int                        { return s.count }

type dropNotifier struct{}

func (dropNotifier) Notify(ctx context.Context, text string) error { return nil }

func testServer(t *testing.T) (*Server, *ledger.Book) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	book, err := ledger.Open(st)
	if err != nil {
		t.Fatalf("open book: %v", err)
	}
	svc := service.New(book, &staticRefresher{count: 5}, nil, dropNotifier{}, 30*time.Second)
	srv := NewServer(appconfig.DashboardConfig{Enabled: true, Address: ":0"}, svc)
	if srv == nil {
		t.Fatalf("expected enabled server")
	}
	return srv, book
}

func TestNewServerDisabled(t *testing.T) {
	if srv := NewServer(appconfig.DashboardConfig{Enabled: false}, nil); srv != nil {
		t.Fatalf("expected nil server when disabled")
	}
	var srv *Server
	if srv.Hub() != nil {
		t.Fatalf("nil server must have nil hub")
	}
}

func TestPoolEndpoint(t *testing.T) {
	srv, book := testServer(t)
	book.Award("42", 800000, 2)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/pool")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	defer resp.Body.Close()

	var stats models.PoolStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalValue != 800000 || stats.TotalTickets != 2 || stats.Participants != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTicketsEndpoint(t *testing.T) {
	srv, book := testServer(t)
	book.Award("42", 400000, 1)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tickets?id=42")
	if err != nil {
		t.Fatalf("get tickets: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["tickets"] != 1 {
		t.Errorf("unexpected tickets: %v", body)
	}

	missing, err := http.Get(ts.URL + "/api/tickets")
	if err != nil {
		t.Fatalf("get tickets without id: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %d", missing.StatusCode)
	}
}

func TestLinkEndpoint(t *testing.T) {
	srv, book := testServer(t)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	payload := []byte(`{"handle": "<@9001>", "account_id": "42"}`)
	resp, err := http.Post(ts.URL+"/api/link", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if book.Handle("42") != "<@9001>" {
		t.Errorf("link not applied")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/prices/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("post refresh: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["items"] != 5 {
		t.Errorf("unexpected item count: %v", body)
	}
}

func TestResetFlowOverHTTP(t *testing.T) {
	srv, book := testServer(t)
	book.Award("42", 800000, 2)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post reset: %v", err)
	}
	var began map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&began); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if began["token"] == "" {
		t.Fatalf("no token returned")
	}

	confirm, err := http.Post(ts.URL+"/api/reset/confirm", "application/json",
		strings.NewReader(`{"token": "`+began["token"]+`"}`))
	if err != nil {
		t.Fatalf("post confirm: %v", err)
	}
	confirm.Body.Close()
	if confirm.StatusCode != http.StatusOK {
		t.Fatalf("unexpected confirm status: %d", confirm.StatusCode)
	}
	if book.TicketCount("42") != 0 {
		t.Errorf("reset not applied")
	}

	// A bogus token conflicts.
	bogus, err := http.Post(ts.URL+"/api/reset/confirm", "application/json",
		strings.NewReader(`{"token": "bogus"}`))
	if err != nil {
		t.Fatalf("post bogus confirm: %v", err)
	}
	bogus.Body.Close()
	if bogus.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for bogus token, got %d", bogus.StatusCode)
	}
}

func TestWebsocketStream(t *testing.T) {
	srv, _ := testServer(t)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler registers the client just after the handshake completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.hub.mu.Lock()
		n := len(srv.hub.clients)
		srv.hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv.Hub().Publish(models.AwardEvent{SenderID: "42", Value: 800000, Tickets: 2, TotalTickets: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev models.AwardEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.SenderID != "42" || ev.Tickets != 2 {
		t.Errorf("unexpected event: %+v", ev)
	}
}
