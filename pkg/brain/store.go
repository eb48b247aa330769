package brain

import (
	"context"
	"fmt"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
)

// rtdbContextStore adapts rtdb.Store to tools.ContextTextStore, giving
// UPDATE_CONTEXT a concrete place to read/persist the working context
// text it edits (spec.md §4.5). The path is scoped per (tenant, thread)
// since the "context_type" the model names (router/accounting/company)
// is a label on the proposal, not a second storage dimension spec.md
// requires us to model.
type rtdbContextStore struct {
	store rtdb.Store
}

func newRTDBContextStore(store rtdb.Store) *rtdbContextStore {
	return &rtdbContextStore{store: store}
}

func contextPath(tenantID, threadKey string) string {
	return fmt.Sprintf("%s/working_context/%s", tenantID, threadKey)
}

func (s *rtdbContextStore) GetText(ctx context.Context, tenantID, threadKey string) (string, error) {
	node, err := s.store.Get(ctx, contextPath(tenantID, threadKey))
	if err != nil {
		return "", fmt.Errorf("load working context: %w", err)
	}
	if node == nil {
		return "", nil
	}
	text, _ := node["text"].(string)
	return text, nil
}

func (s *rtdbContextStore) SetText(ctx context.Context, tenantID, threadKey, text string) error {
	if err := s.store.Set(ctx, contextPath(tenantID, threadKey), map[string]interface{}{"text": text}); err != nil {
		return fmt.Errorf("save working context: %w", err)
	}
	return nil
}
