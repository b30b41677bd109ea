package ws

import (
	"encoding/json"
	"testing"
)

type fakeSub struct {
	userID int64
	frames [][]byte
	full   bool
}

func (f *fakeSub) Enqueue(frame []byte) bool {
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSub) UserID() int64 { return f.userID }

func TestHubPublishToSubscribers(t *testing.T) {
	h := NewHub()
	a := &fakeSub{userID: 1}
	b := &fakeSub{userID: 2}
	other := &fakeSub{userID: 3}

	h.Subscribe(a, RoomTopic(7))
	h.Subscribe(b, RoomTopic(7))
	h.Subscribe(other, RoomTopic(8))

	h.Publish(RoomTopic(7), RoomTopic(7), map[string]string{"content": "hi"})

	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("expected both room subscribers to receive the frame, got %d/%d", len(a.frames), len(b.frames))
	}
	if len(other.frames) != 0 {
		t.Fatalf("subscriber of another room received %d frames", len(other.frames))
	}

	var frame Frame
	if err := json.Unmarshal(a.frames[0], &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != TypeMessage || frame.Destination != RoomTopic(7) {
		t.Fatalf("unexpected frame envelope: %+v", frame)
	}
}

func TestHubPrivateFeedScoping(t *testing.T) {
	h := NewHub()
	alice := &fakeSub{userID: 1}
	bob := &fakeSub{userID: 2}

	h.Subscribe(alice, ReadReceiptsKey(1))
	h.Subscribe(bob, ReadReceiptsKey(2))

	h.Publish(ReadReceiptsKey(1), DestReadReceipts, []string{"m1"})

	if len(alice.frames) != 1 {
		t.Fatalf("alice expected 1 frame, got %d", len(alice.frames))
	}
	if len(bob.frames) != 0 {
		t.Fatalf("bob received a receipt scoped to alice")
	}

	var frame Frame
	if err := json.Unmarshal(alice.frames[0], &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Destination != DestReadReceipts {
		t.Fatalf("private frame must carry the client-facing destination, got %q", frame.Destination)
	}
}

func TestHubRemoveConn(t *testing.T) {
	h := NewHub()
	a := &fakeSub{userID: 1}

	h.Subscribe(a, RoomTopic(7))
	h.Subscribe(a, PersonalKey(1))
	h.RemoveConn(a)

	h.Publish(RoomTopic(7), RoomTopic(7), "x")
	h.Publish(PersonalKey(1), DestPersonal, "y")

	if len(a.frames) != 0 {
		t.Fatalf("removed connection still received %d frames", len(a.frames))
	}
}

func TestParseRoomTopic(t *testing.T) {
	if dest := RoomTopic(42); dest != "topic.chat.room.42" {
		t.Fatalf("unexpected topic %q", dest)
	}
	id, ok := ParseRoomTopic("topic.chat.room.42")
	if !ok || id != 42 {
		t.Fatalf("parse failed: %d %v", id, ok)
	}
	if _, ok := ParseRoomTopic("topic.chat.room.abc"); ok {
		t.Fatal("expected parse failure for non-numeric id")
	}
	if _, ok := ParseRoomTopic("queue.read-receipts"); ok {
		t.Fatal("expected parse failure for non-room destination")
	}
}
