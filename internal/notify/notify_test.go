// README: Tests for websocket sessions, FCM delivery and channel fan-out.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gorilla/websocket"

	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func dialHub(t *testing.T, hub *Hub, id types.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(id.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session for %s never registered", id.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubDeliversToSession(t *testing.T) {
	hub := NewHub(quiet)
	conn := dialHub(t, hub, types.Identity{Kind: types.ActorDriver, ID: "driver-1"})

	offer := ride.Offer{RideID: "ride-1", Fare: 210, Currency: "INR"}
	if err := hub.Notify(context.Background(), "driver-1", ride.EventNewRide, offer); err != nil {
		t.Fatalf("notify: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Event string     `json:"event"`
		Data  ride.Offer `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != ride.EventNewRide || got.Data.RideID != "ride-1" || got.Data.Fare != 210 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestHubUnknownRecipient(t *testing.T) {
	hub := NewHub(quiet)
	if err := hub.Notify(context.Background(), "nobody", ride.EventNewRide, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(quiet)
	conn := dialHub(t, hub, types.Identity{Kind: types.ActorRider, ID: "rider-1"})
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected("rider-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeMessaging struct {
	mu   sync.Mutex
	sent []*messaging.Message
	err  error
}

func (f *fakeMessaging) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "msg-1", nil
}

func TestFCMSendsDataMessage(t *testing.T) {
	tokens := NewMemoryTokenStore()
	_ = tokens.SetToken(context.Background(), "rider-1", "device-token")
	client := &fakeMessaging{}
	f := newFCM(client, tokens, quiet)

	payload := map[string]string{"id": "ride-1"}
	if err := f.Notify(context.Background(), "rider-1", ride.EventRideConfirmed, payload); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(client.sent))
	}
	msg := client.sent[0]
	if msg.Token != "device-token" || msg.Data["type"] != ride.EventRideConfirmed {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(msg.Data["payload"]), &decoded); err != nil || decoded["id"] != "ride-1" {
		t.Fatalf("payload not carried: %q", msg.Data["payload"])
	}
	if msg.Notification == nil {
		t.Fatalf("expected a visible notification for %s", ride.EventRideConfirmed)
	}
}

func TestFCMNoDevice(t *testing.T) {
	f := newFCM(&fakeMessaging{}, NewMemoryTokenStore(), quiet)
	if err := f.Notify(context.Background(), "driver-1", ride.EventNewRide, nil); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestFCMSendError(t *testing.T) {
	tokens := NewMemoryTokenStore()
	_ = tokens.SetToken(context.Background(), "driver-1", "device-token")
	sendErr := errors.New("quota exceeded")
	f := newFCM(&fakeMessaging{err: sendErr}, tokens, quiet)

	if err := f.Notify(context.Background(), "driver-1", ride.EventNewRide, nil); !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, types.ID, string, any) error {
	s.calls++
	return s.err
}

func TestMultiSucceedsWhenAnyChannelDelivers(t *testing.T) {
	offline := &stubNotifier{err: ErrNoSession}
	push := &stubNotifier{}
	m := NewMulti(quiet).Add("ws", offline).Add("fcm", push).Add("none", nil)

	if err := m.Notify(context.Background(), "driver-1", ride.EventNewRide, nil); err != nil {
		t.Fatalf("expected delivery through fcm, got %v", err)
	}
	if offline.calls != 1 || push.calls != 1 {
		t.Fatalf("every channel should be tried: ws=%d fcm=%d", offline.calls, push.calls)
	}
}

func TestMultiReportsWhenNothingDelivers(t *testing.T) {
	boom := errors.New("boom")
	m := NewMulti(quiet).Add("ws", &stubNotifier{err: ErrNoSession}).Add("fcm", &stubNotifier{err: boom})

	err := m.Notify(context.Background(), "driver-1", ride.EventNewRide, nil)
	if !errors.Is(err, ErrNoSession) || !errors.Is(err, boom) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}
