package rendezvous

import (
	"testing"
	"time"
)

func TestNewMessageStampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := NewMessage(MessageTypeRegister)
	after := time.Now().UnixMilli()

	if msg.Type != MessageTypeRegister {
		t.Errorf("expected type %s, got %s", MessageTypeRegister, msg.Type)
	}
	if msg.Timestamp < before || msg.Timestamp > after {
		t.Errorf("timestamp %d not in range [%d, %d]", msg.Timestamp, before, after)
	}
}

func TestMessageChaining(t *testing.T) {
	msg := NewMessage(MessageTypeQuery).
		WithRequestID("req1").
		WithRealmID("realm1").
		WithIdentifier("alice")

	if msg.RequestID != "req1" || msg.RealmID != "realm1" || msg.Identifier != "alice" {
		t.Errorf("got %+v", msg)
	}
}

func TestMessagePayloadRoundtrip(t *testing.T) {
	msg := NewMessage(MessageTypeLocations).WithPayload(LocationsPayload{
		Locations: []LocationView{{Identifier: "alice", Timestamp: 100}},
	})

	var payload LocationsPayload
	if err := msg.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if len(payload.Locations) != 1 || payload.Locations[0].Identifier != "alice" {
		t.Errorf("got %+v", payload)
	}
}

func TestErrorMessageCarriesCode(t *testing.T) {
	msg := NewErrorMessage(ErrorCodeNotFound, "no such realm")
	var payload ErrorPayload
	if err := msg.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload.Code != ErrorCodeNotFound {
		t.Errorf("got code %s, want %s", payload.Code, ErrorCodeNotFound)
	}
}
