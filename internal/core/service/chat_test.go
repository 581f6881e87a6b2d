package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/benbjohnson/clock"
)

func TestSendMessageRelaysToOpenChannelsOnly(t *testing.T) {
	e := newCallEnv(t)
	repo, gw := &fakeRepo{}, &fakeGateway{}
	chat := NewChatService(repo, gw, clock.NewMock())
	chat.SetRelay(e.calls, fakeIdentity("alice"))

	e.connect(t, "peerA")
	e.connect(t, "peerB")
	e.connect(t, "peerC")
	a := e.openData(t, "peerA")
	b := e.openData(t, "peerB")
	c := e.broker.LastConn(t, "peerC")

	msg, err := chat.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Sender != domain.SenderSelf || msg.SenderID != "alice" {
		t.Errorf("got %+v, want own message from alice", msg)
	}

	for _, dc := range []*fakeDataConn{a, b} {
		sent := dc.Sent()
		if len(sent) != 1 || string(sent[0]) != "hello" {
			t.Errorf("%s: got %q, want one hello", dc.peer, sent)
		}
	}
	if got := len(c.Sent()); got != 0 {
		t.Errorf("opening channel got %d sends, want 0", got)
	}

	history, _ := repo.List(context.Background())
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("got history %+v, want the local echo", history)
	}
	if got := len(gw.Messages()); got != 1 {
		t.Errorf("got %d pushed messages, want 1", got)
	}
}

func TestSendMessageEchoesWithoutPeers(t *testing.T) {
	repo := &fakeRepo{}
	chat := NewChatService(repo, &fakeGateway{}, clock.NewMock())

	if _, err := chat.SendMessage(context.Background(), "anyone?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	history, _ := repo.List(context.Background())
	if len(history) != 1 {
		t.Fatalf("got %d messages, want 1", len(history))
	}
}

func TestSendMessageRejectsBlank(t *testing.T) {
	repo := &fakeRepo{}
	chat := NewChatService(repo, &fakeGateway{}, clock.NewMock())

	_, err := chat.SendMessage(context.Background(), "  \n")
	if !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("got %v, want %v", err, domain.ErrEmptyMessage)
	}
	if history, _ := repo.List(context.Background()); len(history) != 0 {
		t.Fatalf("blank message was stored: %+v", history)
	}
}

func TestReceiveAndNotify(t *testing.T) {
	repo, gw := &fakeRepo{}, &fakeGateway{}
	clk := clock.NewMock()
	chat := NewChatService(repo, gw, clk)

	chat.Receive(context.Background(), "peerA", []byte("hi there"))
	chat.Receive(context.Background(), "peerA", []byte(""))
	chat.Notify(context.Background(), "Peer ready: alice")

	history, err := chat.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages, want 2", len(history))
	}
	if history[0].Sender != domain.SenderPeer || history[0].SenderID != "peerA" {
		t.Errorf("got %+v, want peer message", history[0])
	}
	if !history[1].IsSystem() || history[1].SenderID != domain.SystemID {
		t.Errorf("got %+v, want system notice", history[1])
	}
	if !history[1].Timestamp.Equal(clk.Now()) {
		t.Errorf("got timestamp %v, want %v", history[1].Timestamp, clk.Now())
	}
	if got := len(gw.Messages()); got != 2 {
		t.Errorf("got %d pushed messages, want 2", got)
	}
}
