package memcache

import (
	"testing"
	"time"

	"github.com/aguicore/runtime/internal/conversation"
)

func TestMergeAppendsWithoutDuplication(t *testing.T) {
	t.Parallel()

	c := New()
	key := conversation.NewThreadKey("", "room", "thread")
	now := time.Unix(1000, 0).UTC()

	conv1 := conversation.New("thread")
	conv1.Messages = append(conv1.Messages, conversation.NewTextMessage("m1", conversation.UserRoleUser, "hi", "", now))
	if err := c.Merge(key, conv1, now); err != nil {
		t.Fatalf("merge: %v", err)
	}

	conv2 := conversation.New("thread")
	conv2.Messages = append(conv2.Messages, conversation.NewTextMessage("m2", conversation.UserRoleAssistant, "hello", "", now))
	if err := c.Merge(key, conv2, now.Add(time.Minute)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	hist, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected history present")
	}
	if len(hist.Messages) != 2 || hist.Messages[0].ID != "m1" || hist.Messages[1].ID != "m2" {
		t.Fatalf("unexpected merged messages: %#v", hist.Messages)
	}
}

func TestMergePreservesExistingMessageStates(t *testing.T) {
	t.Parallel()

	c := New()
	key := conversation.NewThreadKey("", "room", "thread")
	now := time.Unix(0, 0).UTC()

	conv1 := conversation.New("thread")
	conv1.MessageStates["u1"] = conversation.MessageState{UserMessageID: "u1", RunID: "r1"}
	_ = c.Merge(key, conv1, now)

	conv2 := conversation.New("thread")
	conv2.MessageStates["u2"] = conversation.MessageState{UserMessageID: "u2", RunID: "r2"}
	_ = c.Merge(key, conv2, now)

	hist, _ := c.Get(key)
	if len(hist.MessageStates) != 2 {
		t.Fatalf("expected both message states preserved, got %#v", hist.MessageStates)
	}
}

func TestEvictIdleSince(t *testing.T) {
	t.Parallel()

	c := New()
	key := conversation.NewThreadKey("", "room", "thread")
	old := time.Unix(0, 0).UTC()
	_ = c.Merge(key, conversation.New("thread"), old)

	n := c.EvictIdleSince(time.Unix(1000, 0).UTC())
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected entry evicted")
	}
}
