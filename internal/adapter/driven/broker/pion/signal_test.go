package pion

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestEncodeSignal(t *testing.T) {
	mid := "0"
	raw, err := encodeSignal(SignalCandidate, "bob", &negotiation{
		ConnectionID: "c1",
		Kind:         linkData,
		Candidate:    &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid},
	})
	if err != nil {
		t.Fatalf("encodeSignal: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["type"] != "candidate" || wire["to"] != "bob" {
		t.Fatalf("got %v, want a candidate for bob", wire)
	}
	if _, ok := wire["from"]; ok {
		t.Error("from is filled in by the broker")
	}

	msg, err := decodeSignal(raw)
	if err != nil {
		t.Fatalf("decodeSignal: %v", err)
	}
	n, err := msg.negotiation()
	if err != nil {
		t.Fatalf("negotiation: %v", err)
	}
	if n.ConnectionID != "c1" || n.Kind != linkData || n.Candidate == nil || *n.Candidate.SDPMid != "0" {
		t.Fatalf("got %+v", n)
	}
}

func TestEncodeSignalWithoutPayload(t *testing.T) {
	raw, err := encodeSignal(SignalLeave, "bob", nil)
	if err != nil {
		t.Fatalf("encodeSignal: %v", err)
	}
	msg, err := decodeSignal(raw)
	if err != nil {
		t.Fatalf("decodeSignal: %v", err)
	}
	if _, err := msg.negotiation(); !errors.Is(err, errMissingConnection) {
		t.Fatalf("got %v, want %v", err, errMissingConnection)
	}
}

func TestDecodeSignal(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"open", `{"type":"open","to":"alice"}`, false},
		{"offer", `{"type":"offer","from":"bob","payload":{"connectionId":"c1","kind":"media","sdp":"v=0"}}`, false},
		{"no type", `{"from":"bob"}`, true},
		{"garbage", `not json`, true},
	}
	for _, c := range cases {
		_, err := decodeSignal([]byte(c.raw))
		if (err != nil) != c.wantErr {
			t.Errorf("%s: got err %v, want error %v", c.name, err, c.wantErr)
		}
	}
}

func TestNegotiationNeedsConnectionID(t *testing.T) {
	msg, err := decodeSignal([]byte(`{"type":"answer","from":"bob","payload":{"kind":"media","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("decodeSignal: %v", err)
	}
	if _, err := msg.negotiation(); !errors.Is(err, errMissingConnection) {
		t.Fatalf("got %v, want %v", err, errMissingConnection)
	}

	msg.Payload = json.RawMessage(`{"connectionId":`)
	if _, err := msg.negotiation(); err == nil || errors.Is(err, errMissingConnection) {
		t.Fatalf("got %v, want a decode error", err)
	}
}
