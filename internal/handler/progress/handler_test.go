package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

func setup(t *testing.T) (*httptest.Server, *gamification.Engine, *Hub) {
	t.Helper()
	mem := store.NewMemoryStore()
	hub := NewHub()
	engine := gamification.NewEngine(mem, gamification.NewEvaluator(mem, mem, nil), gamification.Options{Notifier: hub})

	r := chi.NewRouter()
	New(engine, mem, hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, engine, hub
}

func waitForSubscriber(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProgressEndpoint(t *testing.T) {
	srv, engine, _ := setup(t)
	if _, err := engine.RewardMessage(context.Background(), "u1", "s1", true); err != nil {
		t.Fatalf("reward: %v", err)
	}

	resp, err := http.Get(srv.URL + "/users/u1/progress")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stat.XP != 25 || body.Progress.Level != 1 || body.Progress.NextLevelXP != 100 {
		t.Fatalf("unexpected progress: %+v", body)
	}
	if len(body.Badges) != 1 || body.Badges[0].BadgeCode != "first_entry" {
		t.Fatalf("unexpected badges: %+v", body.Badges)
	}
}

func TestProgressForNewUser(t *testing.T) {
	srv, _, _ := setup(t)

	resp, err := http.Get(srv.URL + "/users/nobody/progress")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stat.Level != 1 || body.Badges == nil {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, _, _ := setup(t)

	resp, err := http.Get(srv.URL + "/badges")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var badges []model.Badge
	if err := json.NewDecoder(resp.Body).Decode(&badges); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(badges) != len(gamification.DefaultCatalog) {
		t.Fatalf("expected %d badges, got %d", len(gamification.DefaultCatalog), len(badges))
	}
}

func TestRewardSocketDeliversRewards(t *testing.T) {
	srv, engine, hub := setup(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/users/u1/rewards/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg struct {
		Type string       `json:"type"`
		Data model.Reward `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected message, got %+v err=%v", msg, err)
	}
	waitForSubscriber(t, hub, "u1")

	if _, err := engine.RewardSession(context.Background(), "u1", "s1", gamification.SessionActivity{MessageCount: 12}); err != nil {
		t.Fatalf("reward: %v", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read reward: %v", err)
	}
	if msg.Type != "reward" || msg.Data.XPGained != gamification.SessionXP+gamification.LongSessionBonusXP {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRewardStreamDeliversRewards(t *testing.T) {
	srv, engine, hub := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/users/u1/rewards/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitForSubscriber(t, hub, "u1")
	if _, err := engine.RewardMessage(context.Background(), "u1", "s1", false); err != nil {
		t.Fatalf("reward: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if len(events) == 2 {
			break
		}
	}
	if len(events) != 2 || events[0] != "connected" || events[1] != "reward" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	sub, unsubscribe := hub.subscribe("u1")
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("u1", model.Reward{XPGained: i})
	}
	if len(sub.rewards) != subscriberBuffer {
		t.Fatalf("expected buffer to hold %d rewards, got %d", subscriberBuffer, len(sub.rewards))
	}

	unsubscribe()
	if hub.Subscribers("u1") != 0 {
		t.Fatal("expected subscriber to be removed")
	}
}
