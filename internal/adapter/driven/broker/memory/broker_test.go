package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
)

type recorder chan port.Event

func (r recorder) sink(ev port.Event) { r <- ev }

// expect returns the next event of the given kind, skipping others.
func (r recorder) expect(t *testing.T, kind port.EventKind) port.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", kind)
			return port.Event{}
		}
	}
}

func register(t *testing.T, x *Exchange, id domain.PeerID) (*Broker, recorder) {
	t.Helper()
	b := x.NewBroker(id)
	rec := make(recorder, 64)
	if err := b.Register(context.Background(), rec.sink); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { b.Destroy() })
	return b, rec
}

func TestRegisterAssignsIDs(t *testing.T) {
	x := NewExchange()
	_, rec := register(t, x, "alice")
	if ev := rec.expect(t, port.EventOpen); ev.LocalID != "alice" {
		t.Fatalf("got id %q, want alice", ev.LocalID)
	}

	_, rec2 := register(t, x, "alice")
	if ev := rec2.expect(t, port.EventOpen); ev.LocalID != "peer-1" {
		t.Fatalf("got id %q for a taken name, want peer-1", ev.LocalID)
	}
}

func TestDialEchoPeer(t *testing.T) {
	x := NewExchange()
	echo, err := x.AddEchoPeer(context.Background(), "echo")
	if err != nil {
		t.Fatalf("AddEchoPeer: %v", err)
	}
	defer echo.Close()
	alice, rec := register(t, x, "alice")

	mc, err := alice.Dial(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if ev := rec.expect(t, port.EventMediaNegotiated); ev.Media != mc {
		t.Fatal("negotiated event for another connection")
	}
	ev := rec.expect(t, port.EventMediaStream)
	if ev.PeerID != "echo" || ev.Stream == nil || ev.Stream.ID() == "" {
		t.Fatalf("got %+v, want a stream from echo", ev)
	}
	if got := alice.Dials(); got != 1 {
		t.Errorf("got %d dials, want 1", got)
	}
}

func TestDialUnknownPeer(t *testing.T) {
	x := NewExchange()
	alice, rec := register(t, x, "alice")

	mc, err := alice.Dial(context.Background(), "nobody", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ev := rec.expect(t, port.EventMediaError)
	if ev.Media != mc || !errors.Is(ev.Err, ErrPeerUnavailable) {
		t.Fatalf("got %+v, want peer unavailable on the dialed connection", ev)
	}
}

func TestDataEcho(t *testing.T) {
	x := NewExchange()
	echo, err := x.AddEchoPeer(context.Background(), "echo")
	if err != nil {
		t.Fatalf("AddEchoPeer: %v", err)
	}
	defer echo.Close()
	alice, rec := register(t, x, "alice")

	dc, err := alice.Connect(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.expect(t, port.EventDataOpen)
	if err := dc.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := rec.expect(t, port.EventDataMessage)
	if string(ev.Payload) != "ping" || ev.Data != dc {
		t.Fatalf("got %q on %v, want ping on the dialed channel", ev.Payload, ev.Data)
	}

	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dc.Send([]byte("late")); err == nil {
		t.Fatal("send on a closed channel should fail")
	}
}

func TestCloseNotifiesRemote(t *testing.T) {
	x := NewExchange()
	alice, _ := register(t, x, "alice")
	_, bobRec := register(t, x, "bob")

	mc, err := alice.Dial(context.Background(), "bob", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	incoming := bobRec.expect(t, port.EventIncomingCall)
	if incoming.PeerID != "alice" {
		t.Fatalf("got caller %q, want alice", incoming.PeerID)
	}

	if err := mc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ev := bobRec.expect(t, port.EventMediaClosed); ev.Media != incoming.Media {
		t.Fatal("closed event for another connection")
	}
	if err := incoming.Media.Answer(context.Background(), nil); err == nil {
		t.Fatal("answering a closed call should fail")
	}
}

func TestDropAndRecover(t *testing.T) {
	x := NewExchange()
	alice, rec := register(t, x, "alice")
	rec.expect(t, port.EventOpen)

	alice.Drop()
	rec.expect(t, port.EventDisconnected)
	alice.Recover()
	if ev := rec.expect(t, port.EventOpen); ev.LocalID != "alice" {
		t.Fatalf("got id %q after recovery, want alice", ev.LocalID)
	}
}

func TestDestroy(t *testing.T) {
	x := NewExchange()
	alice, rec := register(t, x, "alice")

	if err := alice.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	rec.expect(t, port.EventClosed)
	if _, err := alice.Dial(context.Background(), "bob", nil); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("got %v, want %v", err, domain.ErrNotRegistered)
	}

	// The id is free again.
	_, rec2 := register(t, x, "alice")
	if ev := rec2.expect(t, port.EventOpen); ev.LocalID != "alice" {
		t.Fatalf("got id %q, want alice", ev.LocalID)
	}
}
