package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
)

// CardStatus is the lifecycle of a persisted approval card record.
type CardStatus string

const (
	StatusPendingApproval CardStatus = "pending_approval"
	StatusResponded       CardStatus = "responded"
	StatusTimeout         CardStatus = "timeout"
)

// DefaultTimeout is the default wait for a card response, pinned from
// the original's request_approval_with_card default (15 minutes).
const DefaultTimeout = 15 * time.Minute

// Response is what send_card_response resolves a pending future with.
type Response struct {
	Approved      bool
	Action        string
	UserMessage   string
	RespondedAt   time.Time
}

// Outcome is request_approval_with_card's return value.
type Outcome struct {
	Approved      bool
	Action        string
	UserMessage   string
	CardMessageID string
	TimedOut      bool
}

// Notifier is the narrow surface the approval protocol needs to
// broadcast a card over WS and deliver a direct-message notification.
// Callers supply the implementation when constructing a Protocol.
type Notifier interface {
	BroadcastCard(ctx context.Context, userID, tenantID, threadKey, cardMessageID string, card Card) error
	NotifyUser(ctx context.Context, userID, tenantID, text string) error
	WithdrawNotification(ctx context.Context, userID, tenantID string) error
}

var errTimeout = errors.New("approval: timed out waiting for card response")

// PendingTable is the one-shot futures map keyed by
// "user:thread:card_message_id", resolved by send_card_response and
// awaited by request_approval_with_card.
type PendingTable struct {
	mu      sync.Mutex
	pending map[string]chan Response
}

func NewPendingTable() *PendingTable {
	return &PendingTable{pending: make(map[string]chan Response)}
}

func pendingKey(userID, threadKey, cardMessageID string) string {
	return fmt.Sprintf("%s:%s:%s", userID, threadKey, cardMessageID)
}

func (p *PendingTable) allocate(userID, threadKey, cardMessageID string) chan Response {
	ch := make(chan Response, 1)
	p.mu.Lock()
	p.pending[pendingKey(userID, threadKey, cardMessageID)] = ch
	p.mu.Unlock()
	return ch
}

func (p *PendingTable) release(userID, threadKey, cardMessageID string) {
	p.mu.Lock()
	delete(p.pending, pendingKey(userID, threadKey, cardMessageID))
	p.mu.Unlock()
}

// Resolve delivers a response to the waiting future, if one exists.
// Returns false if there is no pending card with this ID (already
// responded to, timed out, or never existed).
func (p *PendingTable) Resolve(userID, threadKey, cardMessageID string, resp Response) bool {
	p.mu.Lock()
	ch, ok := p.pending[pendingKey(userID, threadKey, cardMessageID)]
	p.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// Protocol ties the pending-future table to RTDB persistence and WS
// notification, implementing request_approval_with_card /
// send_card_response (spec.md §4.5).
type Protocol struct {
	pending  *PendingTable
	store    rtdb.Store
	notifier Notifier
}

func NewProtocol(store rtdb.Store, notifier Notifier) *Protocol {
	return &Protocol{pending: NewPendingTable(), store: store, notifier: notifier}
}

// RequestApprovalWithCard runs the full 8-step approval protocol:
// build the card, allocate a card_message_id, allocate the future,
// broadcast the CARD event, persist the RTDB record as
// pending_approval with a timeout_at, send a direct-message
// notification, then wait for the future (or the timeout). On both
// resolution and timeout, the RTDB record is patched to its terminal
// status and the notification withdrawn.
func (p *Protocol) RequestApprovalWithCard(ctx context.Context, userID, tenantID, threadKey string, card Card, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cardMessageID := newCardMessageID()
	future := p.pending.allocate(userID, threadKey, cardMessageID)
	defer p.pending.release(userID, threadKey, cardMessageID)

	if err := p.notifier.BroadcastCard(ctx, userID, tenantID, threadKey, cardMessageID, card); err != nil {
		logger.WarnCF("approval", "failed to broadcast approval card", map[string]interface{}{"error": err.Error()})
	}

	timeoutAt := time.Now().Add(timeout)
	recordPath := fmt.Sprintf("threads/%s/messages/%s", threadKey, cardMessageID)
	record := map[string]interface{}{
		"card_type":  string(card.CardType),
		"title":      card.Title,
		"status":     string(StatusPendingApproval),
		"timeout_at": timeoutAt.Unix(),
	}
	if err := p.store.Set(ctx, recordPath, record); err != nil {
		return Outcome{}, fmt.Errorf("approval: persist card record: %w", err)
	}

	if err := p.notifier.NotifyUser(ctx, userID, tenantID, card.Summary()); err != nil {
		logger.WarnCF("approval", "failed to send card notification", map[string]interface{}{"error": err.Error()})
	}

	outcome, waitErr := p.await(ctx, future, timeout)

	_ = p.notifier.WithdrawNotification(ctx, userID, tenantID)

	if waitErr != nil {
		_ = p.store.Update(ctx, recordPath, map[string]interface{}{"status": string(StatusTimeout)})
		return Outcome{CardMessageID: cardMessageID, TimedOut: true}, nil
	}

	_ = p.store.Update(ctx, recordPath, map[string]interface{}{
		"status":       string(StatusResponded),
		"responded_at": outcome.RespondedAt.Unix(),
	})

	return Outcome{
		Approved:      outcome.Approved,
		Action:        outcome.Action,
		UserMessage:   outcome.UserMessage,
		CardMessageID: cardMessageID,
	}, nil
}

func (p *Protocol) await(ctx context.Context, future chan Response, timeout time.Duration) (Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-future:
		return resp, nil
	case <-timer.C:
		return Response{}, errTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// SendCardResponse resolves the pending future for a card, deriving
// Approved from whether action starts with "approve". Returns false
// if no future is pending for this card (already resolved, or the
// card doesn't exist).
func (p *Protocol) SendCardResponse(userID, threadKey, cardMessageID, action, userMessage string) bool {
	approved := len(action) >= len("approve") && action[:len("approve")] == "approve"
	return p.pending.Resolve(userID, threadKey, cardMessageID, Response{
		Approved:    approved,
		Action:      action,
		UserMessage: userMessage,
		RespondedAt: time.Now(),
	})
}

func newCardMessageID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("card_%s", hex.EncodeToString(buf[:]))
}
