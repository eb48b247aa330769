package brain

import (
	"context"
	"strings"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/logger"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
)

// summaryMaxTokens bounds the synthesized summary to roughly 500
// tokens (spec.md §4.2); it is passed as the summarization call's
// output token cap.
const summaryMaxTokens = 500

// summarize synthesizes a conversation summary via a non-streaming
// model call with an empty tool list, then atomically rebuilds the
// system prompt to include it and clears history — transparent to the
// user-visible stream, which keeps running in the same RunWorkflow
// invocation (spec.md §4.2 budget control).
func (b *Brain) summarize(ctx context.Context) {
	if b.deps == nil || b.deps.Provider == nil {
		return
	}

	history := b.History()
	if len(history) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("Summarize this conversation in at most a few short paragraphs, preserving every fact, decision, and open item the assistant will need to continue correctly:\n\n")
	for _, m := range history {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
		for _, blk := range m.Blocks {
			if blk.Text != "" {
				sb.WriteString(blk.Text)
			}
			if blk.Result != "" {
				sb.WriteString(blk.Result)
			}
		}
		sb.WriteString("\n")
	}

	model := b.deps.SummaryModel
	if model == "" {
		model = b.deps.Model
	}

	resp, err := b.deps.Provider.Chat(ctx, []providers.Message{{Role: "user", Text: sb.String()}}, nil, model, providers.Options{
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		logger.WarnCF("brain", "summarization call failed, skipping", map[string]interface{}{"error": err.Error(), "thread": b.threadKey})
		return
	}

	b.mu.Lock()
	b.summary = resp.Text
	b.history = nil
	b.mu.Unlock()

	logger.InfoCF("brain", "summarized conversation", map[string]interface{}{"thread": b.threadKey, "summary_chars": len(resp.Text)})
}
