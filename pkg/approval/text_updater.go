// Package approval implements the interactive approval-card protocol
// (spec.md §4.5): a pure-function text updater for UPDATE_CONTEXT
// operations, card payload builders, and the pending-future map that
// suspends a tool call until the user responds or the card times out.
package approval

import (
	"fmt"
	"strings"
)

// SectionLocator is where in the text an operation applies.
type SectionLocator string

const (
	SectionBeginning SectionLocator = "beg"
	SectionMiddle    SectionLocator = "mid"
	SectionEnd       SectionLocator = "end"
)

// OperationKind is what an UPDATE_CONTEXT operation does to the
// addressed section.
type OperationKind string

const (
	OpAdd     OperationKind = "add"
	OpReplace OperationKind = "replace"
	OpDelete  OperationKind = "delete"
)

// Operation is one requested edit.
type Operation struct {
	SectionType SectionLocator `json:"section_type"`
	Operation   OperationKind  `json:"operation"`
	NewContent  string         `json:"new_content,omitempty"`
	// Context is required when SectionType is SectionMiddle: a
	// substring used to locate the target region within the text.
	Context string `json:"context,omitempty"`
}

// OperationResult records whether one operation applied.
type OperationResult struct {
	Operation Operation `json:"operation"`
	Applied   bool      `json:"applied"`
	Reason    string    `json:"reason,omitempty"`
}

// UpdateResult is the pure text updater's output: the new text (equal
// to the original if every operation failed) plus a per-operation log.
type UpdateResult struct {
	OriginalText string
	UpdatedText  string
	Log          []OperationResult
}

// ApplyOperations is the pure-function text updater UPDATE_CONTEXT
// calls before requesting approval. It never returns an error — a
// failing operation is recorded in Log instead.
// Matching the original's apply_operations, it stops at the first
// failing operation rather than continuing to apply further edits on
// top of an inconsistent state; the caller still proceeds to request
// approval afterward, on whatever text resulted up to that point, so
// the failure is visible to the model instead of silently skipped.
func ApplyOperations(text string, ops []Operation) UpdateResult {
	current := text
	log := make([]OperationResult, 0, len(ops))

	for _, op := range ops {
		updated, applied, reason := applyOne(current, op)
		log = append(log, OperationResult{Operation: op, Applied: applied, Reason: reason})
		if !applied {
			break
		}
		current = updated
	}

	return UpdateResult{OriginalText: text, UpdatedText: current, Log: log}
}

func applyOne(text string, op Operation) (updated string, applied bool, reason string) {
	switch op.SectionType {
	case SectionBeginning:
		return applyAtBeginning(text, op)
	case SectionEnd:
		return applyAtEnd(text, op)
	case SectionMiddle:
		return applyAtMiddle(text, op)
	default:
		return text, false, fmt.Sprintf("unknown section_type %q", op.SectionType)
	}
}

// applyAtBeginning mirrors _update_text_section's "beg" branch: add
// always prepends; replace/delete anchor on op.Context when given (the
// text must start with it, or the operation fails) and otherwise fall
// back to a length-based prefix swap for replace, while delete with no
// context always fails (there is nothing to anchor the removal on).
func applyAtBeginning(text string, op Operation) (string, bool, string) {
	switch op.Operation {
	case OpAdd:
		return op.NewContent + text, true, ""
	case OpReplace:
		if op.Context != "" {
			if !strings.HasPrefix(text, op.Context) {
				return text, false, fmt.Sprintf("beginning of text does not match context %q for replace", truncateForLog(op.Context))
			}
			return op.NewContent + text[len(op.Context):], true, ""
		}
		lenReplace := len(op.NewContent)
		if lenReplace > len(text) {
			lenReplace = len(text)
		}
		return op.NewContent + text[lenReplace:], true, ""
	case OpDelete:
		if op.Context == "" {
			return text, false, "delete at beginning requires a context to remove"
		}
		if !strings.HasPrefix(text, op.Context) {
			return text, false, fmt.Sprintf("beginning of text does not match context %q for delete", truncateForLog(op.Context))
		}
		return text[len(op.Context):], true, ""
	default:
		return text, false, fmt.Sprintf("unknown operation %q", op.Operation)
	}
}

// applyAtEnd mirrors _update_text_section's "end" branch: the mirror
// image of applyAtBeginning, anchored on a suffix match instead of a
// prefix match.
func applyAtEnd(text string, op Operation) (string, bool, string) {
	switch op.Operation {
	case OpAdd:
		return text + op.NewContent, true, ""
	case OpReplace:
		if op.Context != "" {
			if !strings.HasSuffix(text, op.Context) {
				return text, false, fmt.Sprintf("end of text does not match context %q for replace", truncateForLog(op.Context))
			}
			return text[:len(text)-len(op.Context)] + op.NewContent, true, ""
		}
		lenReplace := len(op.NewContent)
		if lenReplace > len(text) {
			lenReplace = len(text)
		}
		return text[:len(text)-lenReplace] + op.NewContent, true, ""
	case OpDelete:
		if op.Context == "" {
			return text, false, "delete at end requires a context to remove"
		}
		if !strings.HasSuffix(text, op.Context) {
			return text, false, fmt.Sprintf("end of text does not match context %q for delete", truncateForLog(op.Context))
		}
		return text[:len(text)-len(op.Context)], true, ""
	default:
		return text, false, fmt.Sprintf("unknown operation %q", op.Operation)
	}
}

func applyAtMiddle(text string, op Operation) (string, bool, string) {
	if op.Context == "" {
		return text, false, "mid operation requires a context locator"
	}
	idx := strings.Index(text, op.Context)
	if idx < 0 {
		return text, false, fmt.Sprintf("context locator %q not found", truncateForLog(op.Context))
	}

	switch op.Operation {
	case OpAdd:
		insertAt := idx + len(op.Context)
		return text[:insertAt] + op.NewContent + text[insertAt:], true, ""
	case OpReplace:
		return text[:idx] + op.NewContent + text[idx+len(op.Context):], true, ""
	case OpDelete:
		return text[:idx] + text[idx+len(op.Context):], true, ""
	default:
		return text, false, fmt.Sprintf("unknown operation %q", op.Operation)
	}
}

func truncateForLog(s string) string {
	const maxLen = 60
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Truncation bounds for the diff preview sent back to the model,
// pinned from the original's text_updater.py.
const (
	previewCharsPerSide = 400
	maxOperationEntries = 10
)

// PreviewText bounds a before/after text longer than
// 2*previewCharsPerSide bytes to its first and last previewCharsPerSide
// bytes, joined by a "…(truncated)…" marker line.
func PreviewText(text string) string {
	if len(text) <= previewCharsPerSide*2 {
		return text
	}
	return text[:previewCharsPerSide] + "\n…(truncated)…\n" + text[len(text)-previewCharsPerSide:]
}

// SummarizeOperations bounds the operations log to maxOperationEntries
// real entries, returning the kept slice plus a "+N more" marker for
// the remainder (empty string if nothing was dropped).
func SummarizeOperations(log []OperationResult) (kept []OperationResult, moreMarker string) {
	if len(log) <= maxOperationEntries {
		return log, ""
	}
	remaining := len(log) - maxOperationEntries
	return log[:maxOperationEntries], fmt.Sprintf("+%d more", remaining)
}
