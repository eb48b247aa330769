package approval

import (
	"context"
	"testing"
	"time"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
)

type fakeNotifier struct {
	broadcasts   int
	notifies     int
	withdrawals  int
	lastCardID   string
}

func (f *fakeNotifier) BroadcastCard(_ context.Context, _, _, _, cardMessageID string, _ Card) error {
	f.broadcasts++
	f.lastCardID = cardMessageID
	return nil
}

func (f *fakeNotifier) NotifyUser(_ context.Context, _, _, _ string) error {
	f.notifies++
	return nil
}

func (f *fakeNotifier) WithdrawNotification(_ context.Context, _, _ string) error {
	f.withdrawals++
	return nil
}

func TestRequestApprovalWithCard_ApprovedBeforeTimeout(t *testing.T) {
	store := rtdb.NewMemoryStore()
	notifier := &fakeNotifier{}
	proto := NewProtocol(store, notifier)

	card := BuildGenericCard("Do the thing", "please confirm", nil)

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := proto.RequestApprovalWithCard(context.Background(), "u1", "t1", "thread1", card, 2*time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- outcome
	}()

	// Wait for the card to be broadcast before responding, since
	// SendCardResponse needs the future allocated first.
	deadline := time.Now().Add(time.Second)
	for notifier.broadcasts == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if notifier.broadcasts == 0 {
		t.Fatalf("expected card to be broadcast")
	}

	if !proto.SendCardResponse("u1", "thread1", notifier.lastCardID, "approve_yes", "looks good") {
		t.Fatalf("expected SendCardResponse to find the pending future")
	}

	outcome := <-done
	if !outcome.Approved {
		t.Fatalf("expected approved outcome")
	}
	if outcome.TimedOut {
		t.Fatalf("did not expect a timeout")
	}
	if notifier.withdrawals != 1 {
		t.Fatalf("expected notification withdrawn once, got %d", notifier.withdrawals)
	}

	record, err := store.Get(context.Background(), "threads/thread1/messages/"+notifier.lastCardID)
	if err != nil {
		t.Fatalf("unexpected error reading record: %v", err)
	}
	if record["status"] != string(StatusResponded) {
		t.Fatalf("expected status %q, got %v", StatusResponded, record["status"])
	}
}

func TestRequestApprovalWithCard_TimesOutWhenNoResponse(t *testing.T) {
	store := rtdb.NewMemoryStore()
	notifier := &fakeNotifier{}
	proto := NewProtocol(store, notifier)

	card := BuildGenericCard("Do the thing", "please confirm", nil)

	outcome, err := proto.RequestApprovalWithCard(context.Background(), "u1", "t1", "thread1", card, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.TimedOut {
		t.Fatalf("expected a timeout outcome")
	}
	if outcome.Approved {
		t.Fatalf("timed-out outcome should not be approved")
	}

	record, err := store.Get(context.Background(), "threads/thread1/messages/"+outcome.CardMessageID)
	if err != nil {
		t.Fatalf("unexpected error reading record: %v", err)
	}
	if record["status"] != string(StatusTimeout) {
		t.Fatalf("expected status %q, got %v", StatusTimeout, record["status"])
	}
}

func TestSendCardResponse_RejectActionIsNotApproved(t *testing.T) {
	store := rtdb.NewMemoryStore()
	notifier := &fakeNotifier{}
	proto := NewProtocol(store, notifier)

	card := BuildGenericCard("Do the thing", "please confirm", nil)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := proto.RequestApprovalWithCard(context.Background(), "u1", "t1", "thread1", card, time.Second)
		done <- outcome
	}()

	deadline := time.Now().Add(time.Second)
	for notifier.broadcasts == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	proto.SendCardResponse("u1", "thread1", notifier.lastCardID, "reject", "not now")

	outcome := <-done
	if outcome.Approved {
		t.Fatalf("expected rejected outcome")
	}
}

func TestSendCardResponse_UnknownCardReturnsFalse(t *testing.T) {
	store := rtdb.NewMemoryStore()
	notifier := &fakeNotifier{}
	proto := NewProtocol(store, notifier)

	if proto.SendCardResponse("u1", "thread1", "card_doesnotexist", "approve", "") {
		t.Fatalf("expected no pending future to be found")
	}
}
