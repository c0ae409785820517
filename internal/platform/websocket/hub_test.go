package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/tenant"
)

func validStage(s string) bool {
	switch s {
	case "reception", "triage", "doctor", "pharmacy", "lab", "billing":
		return true
	}
	return false
}

func newClient(tenantID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), TenantID: tenantID, Send: make(chan []byte, sendBuffer)}
}

func TestHub_FollowAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tid := uuid.New()
	client := newClient(tid)

	hub.Register(client)
	hub.Follow(client, []string{"doctor", "billing"})

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(events.Topic(tid, "doctor")) != 1 {
		t.Fatal("expected client on doctor board")
	}

	hub.Follow(client, []string{"billing"})
	if hub.TopicCount(events.Topic(tid, "doctor")) != 0 {
		t.Fatal("expected doctor board to be dropped")
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(events.Topic(tid, "billing")) != 0 {
		t.Fatal("expected hub to be empty")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed")
	}
}

func TestHub_PublishIsTenantScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b := uuid.New(), uuid.New()
	ca, cb := newClient(a), newClient(b)
	hub.Register(ca)
	hub.Register(cb)
	hub.Follow(ca, []string{"doctor"})
	hub.Follow(cb, []string{"doctor"})

	ev := events.Event{Type: events.TypeCalled, TenantID: a, Stage: "doctor", ItemID: uuid.New()}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-ca.Send:
		var got events.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ItemID != ev.ItemID {
			t.Errorf("expected item %s, got %s", ev.ItemID, got.ItemID)
		}
	default:
		t.Fatal("expected tenant A client to receive the event")
	}

	select {
	case <-cb.Send:
		t.Fatal("tenant B client must not receive tenant A events")
	default:
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tid := uuid.New()
	client := &Client{ID: "slow", TenantID: tid, Send: make(chan []byte, 1)}
	hub.Register(client)
	hub.Follow(client, []string{"lab"})

	ev := events.Event{TenantID: tid, Stage: "lab"}
	for i := 0; i < 5; i++ {
		if err := hub.Publish(context.Background(), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(client.Send) != 1 {
		t.Fatalf("expected buffered event only, got %d", len(client.Send))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tid := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(tid)
			hub.Register(c)
			hub.Follow(c, []string{"reception"})
			_ = hub.Publish(context.Background(), events.Event{TenantID: tid, Stage: "reception"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func boardServer(t *testing.T, hub *Hub, org *tenant.Organization) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop(), false)
	g := e.Group("/board", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := tenant.WithContext(c.Request().Context(), tenant.RequestContext{Org: org})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(hub, validStage, nil).RegisterRoutes(g)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_RejectsBadStage(t *testing.T) {
	org := &tenant.Organization{ID: uuid.New()}
	srv := boardServer(t, NewHub(zerolog.Nop()), org)

	resp, err := http.Get(srv.URL + "/board/ws?stage=morgue")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandler_StreamsBoardEvents(t *testing.T) {
	org := &tenant.Organization{ID: uuid.New()}
	hub := NewHub(zerolog.Nop())
	srv := boardServer(t, hub, org)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/board/ws?stage=doctor"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	topic := events.Topic(org.ID, "doctor")
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(topic) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(topic) != 1 {
		t.Fatal("expected client to follow the doctor board")
	}

	ev := events.Event{Type: events.TypeEnqueued, TenantID: org.ID, Stage: "doctor", TokenNumber: "T-CITY-261014-0001"}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.TokenNumber != ev.TokenNumber {
		t.Fatalf("expected token %s, got %s", ev.TokenNumber, got.TokenNumber)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "follow", Stages: []string{"billing", "bogus"}}); err != nil {
		t.Fatalf("failed to send follow: %v", err)
	}
	billing := events.Topic(org.ID, "billing")
	deadline = time.Now().Add(2 * time.Second)
	for hub.TopicCount(billing) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(billing) != 1 || hub.TopicCount(topic) != 0 {
		t.Fatal("expected client to switch to the billing board")
	}
}
