package mailbox

import (
	"testing"
	"time"
)

// fakeStore is an in-memory Store used to test Mailbox's write-through
// behavior without a real database; sqlstore_test.go covers SQLStore
// itself against a mocked driver.
type fakeStore struct {
	saved   []*Message
	updated []struct {
		id     string
		status Status
	}
}

func (f *fakeStore) Save(msg *Message) error {
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeStore) UpdateStatus(id string, status Status, readAt time.Time) error {
	f.updated = append(f.updated, struct {
		id     string
		status Status
	}{id, status})
	return nil
}

func (f *fakeStore) LoadInbox(to string) ([]*Message, error) { return nil, nil }

func TestMailboxWithStoreWritesThroughOnSendAndCheck(t *testing.T) {
	store := &fakeStore{}
	mb := NewWithStore(store)

	id, err := mb.Send(SendRequest{From: "a", To: "b", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].ID != id {
		t.Fatalf("expected Send to persist the message, got %+v", store.saved)
	}

	mb.Check("b", Filter{})
	if len(store.updated) != 1 || store.updated[0].id != id || store.updated[0].status != StatusRead {
		t.Fatalf("expected Check to persist the read transition, got %+v", store.updated)
	}

	if err := mb.Archive(id); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(store.updated) != 2 || store.updated[1].status != StatusArchived {
		t.Fatalf("expected Archive to persist the archived transition, got %+v", store.updated)
	}
}

func TestSendVisibleImmediately(t *testing.T) {
	mb := New()
	id, err := mb.Send(SendRequest{From: "a", To: "b", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := mb.Check("b", Filter{})
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected delivered message, got %+v", msgs)
	}
}

func TestFIFOWithinPriorityLane(t *testing.T) {
	mb := New()
	id1, _ := mb.Send(SendRequest{From: "a", To: "b", Body: "first"})
	id2, _ := mb.Send(SendRequest{From: "a", To: "b", Body: "second"})

	msgs := mb.Check("b", Filter{})
	if len(msgs) != 2 || msgs[0].ID != id1 || msgs[1].ID != id2 {
		t.Fatalf("expected FIFO order, got %+v", msgs)
	}
}

func TestPriorityLanesDrainHighestFirst(t *testing.T) {
	mb := New()
	lowID, _ := mb.Send(SendRequest{From: "a", To: "b", Body: "low", Priority: PriorityLow})
	urgentID, _ := mb.Send(SendRequest{From: "a", To: "b", Body: "urgent", Priority: PriorityUrgent})

	msgs := mb.Check("b", Filter{})
	if len(msgs) != 2 || msgs[0].ID != urgentID || msgs[1].ID != lowID {
		t.Fatalf("expected urgent before low, got %+v", msgs)
	}
}

func TestCheckMarksRead(t *testing.T) {
	mb := New()
	mb.Send(SendRequest{From: "a", To: "b", Body: "hi"})
	msgs := mb.Check("b", Filter{})
	if msgs[0].Status != StatusRead {
		t.Fatalf("expected message marked read, got %v", msgs[0].Status)
	}

	unread := mb.Check("b", Filter{Status: StatusUnread})
	if len(unread) != 0 {
		t.Fatalf("expected no unread messages remaining, got %+v", unread)
	}
}

func TestReplyThreadsAndAddressesSender(t *testing.T) {
	mb := New()
	id, _ := mb.Send(SendRequest{From: "a", To: "b", Subject: "q", Body: "hi"})

	replyID, err := mb.Reply(id, "b", "answer")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	msgs := mb.Check("a", Filter{})
	if len(msgs) != 1 || msgs[0].ID != replyID || msgs[0].InReplyTo != id {
		t.Fatalf("expected threaded reply to sender, got %+v", msgs)
	}
}

func TestArchiveRemovesFromStatusFilteredViews(t *testing.T) {
	mb := New()
	id, _ := mb.Send(SendRequest{From: "a", To: "b", Body: "hi"})
	mb.Check("b", Filter{}) // mark read

	if err := mb.Archive(id); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	read := mb.List("b", Filter{Status: StatusRead})
	if len(read) != 0 {
		t.Fatalf("expected archived message excluded from read filter, got %+v", read)
	}
	archived := mb.List("b", Filter{Status: StatusArchived})
	if len(archived) != 1 || archived[0].ID != id {
		t.Fatalf("expected archived message present, got %+v", archived)
	}
}

func TestUnknownRecipientQueueSurvivesBeforeInstantiation(t *testing.T) {
	mb := New()
	id, err := mb.Send(SendRequest{From: "a", To: "not-yet-instantiated", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := mb.List("not-yet-instantiated", Filter{})
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected message to persist for un-instantiated recipient, got %+v", msgs)
	}
}
