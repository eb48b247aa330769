package approval

import (
	"strings"
	"testing"
)

func TestApplyOperations_AddAtBeginning(t *testing.T) {
	result := ApplyOperations("world", []Operation{
		{SectionType: SectionBeginning, Operation: OpAdd, NewContent: "hello "},
	})
	if result.UpdatedText != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", result.UpdatedText)
	}
	if !result.Log[0].Applied {
		t.Fatalf("expected operation to apply")
	}
}

func TestApplyOperations_ReplaceAtEndWithoutContextSwapsTrailingChars(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: SectionEnd, Operation: OpReplace, NewContent: "done"},
	})
	if result.UpdatedText != "hello wdone" {
		t.Fatalf("expected %q, got %q", "hello wdone", result.UpdatedText)
	}
}

func TestApplyOperations_ReplaceAtEndWithContextOnlyTouchesSuffix(t *testing.T) {
	result := ApplyOperations("keep this\nold note", []Operation{
		{SectionType: SectionEnd, Operation: OpReplace, Context: "old note", NewContent: "new note"},
	})
	if result.UpdatedText != "keep this\nnew note" {
		t.Fatalf("expected %q, got %q", "keep this\nnew note", result.UpdatedText)
	}
}

func TestApplyOperations_DeleteAtEndWithContextOnlyRemovesSuffix(t *testing.T) {
	result := ApplyOperations("keep this\nold note", []Operation{
		{SectionType: SectionEnd, Operation: OpDelete, Context: "old note"},
	})
	if result.UpdatedText != "keep this\n" {
		t.Fatalf("expected rest of text preserved, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_DeleteAtEndWithoutContextFails(t *testing.T) {
	result := ApplyOperations("keep this\nold note", []Operation{
		{SectionType: SectionEnd, Operation: OpDelete},
	})
	if result.Log[0].Applied {
		t.Fatalf("expected delete without context to fail")
	}
	if result.UpdatedText != "keep this\nold note" {
		t.Fatalf("expected unchanged text, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_ReplaceAtBeginningWithContextOnlyTouchesPrefix(t *testing.T) {
	result := ApplyOperations("old note\nkeep this", []Operation{
		{SectionType: SectionBeginning, Operation: OpReplace, Context: "old note", NewContent: "new note"},
	})
	if result.UpdatedText != "new note\nkeep this" {
		t.Fatalf("expected %q, got %q", "new note\nkeep this", result.UpdatedText)
	}
}

func TestApplyOperations_DeleteAtBeginningContextMismatchFails(t *testing.T) {
	result := ApplyOperations("keep this\nold note", []Operation{
		{SectionType: SectionBeginning, Operation: OpDelete, Context: "old note"},
	})
	if result.Log[0].Applied {
		t.Fatalf("expected delete to fail when text does not start with context")
	}
	if result.UpdatedText != "keep this\nold note" {
		t.Fatalf("expected unchanged text, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_StopsAtFirstFailure(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: SectionEnd, Operation: OpDelete, Context: "missing"},
		{SectionType: SectionEnd, Operation: OpAdd, NewContent: "!"},
	})
	if len(result.Log) != 1 {
		t.Fatalf("expected processing to stop after the first failed operation, got %d log entries", len(result.Log))
	}
	if result.UpdatedText != "hello world" {
		t.Fatalf("expected text unchanged after first operation failed, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_MiddleRequiresContext(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: SectionMiddle, Operation: OpAdd, NewContent: "X"},
	})
	if result.Log[0].Applied {
		t.Fatalf("expected operation without context to fail")
	}
	if result.UpdatedText != "hello world" {
		t.Fatalf("expected unchanged text, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_MiddleReplace(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: SectionMiddle, Operation: OpReplace, Context: "world", NewContent: "there"},
	})
	if result.UpdatedText != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", result.UpdatedText)
	}
}

func TestApplyOperations_MiddleContextNotFound(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: SectionMiddle, Operation: OpDelete, Context: "missing"},
	})
	if result.Log[0].Applied {
		t.Fatalf("expected operation to fail when context is absent")
	}
	if result.UpdatedText != "hello world" {
		t.Fatalf("unchanged text expected on failure, got %q", result.UpdatedText)
	}
}

func TestApplyOperations_AllFailuresStillReturnOriginalText(t *testing.T) {
	result := ApplyOperations("hello world", []Operation{
		{SectionType: "bogus", Operation: OpAdd},
	})
	if result.UpdatedText != result.OriginalText {
		t.Fatalf("expected updated text to equal original when every op fails")
	}
	if len(result.Log) != 1 || result.Log[0].Applied {
		t.Fatalf("expected one failed log entry")
	}
}

func TestPreviewText_ShortTextPassesThrough(t *testing.T) {
	short := "short text"
	if PreviewText(short) != short {
		t.Fatalf("expected short text unchanged")
	}
}

func TestPreviewText_LongTextTruncatesMiddle(t *testing.T) {
	long := strings.Repeat("a", 2000)
	preview := PreviewText(long)
	if len(preview) >= len(long) {
		t.Fatalf("expected preview shorter than original")
	}
	if !strings.Contains(preview, "truncated") {
		t.Fatalf("expected truncation marker in preview")
	}
}

func TestSummarizeOperations_UnderCapReturnsAllWithNoMarker(t *testing.T) {
	log := make([]OperationResult, 3)
	kept, marker := SummarizeOperations(log)
	if len(kept) != 3 || marker != "" {
		t.Fatalf("expected all 3 entries kept with no marker, got %d entries marker=%q", len(kept), marker)
	}
}

func TestSummarizeOperations_OverCapPreservesAllKeptEntries(t *testing.T) {
	log := make([]OperationResult, 12)
	for i := range log {
		log[i] = OperationResult{Reason: "entry"}
	}
	kept, marker := SummarizeOperations(log)
	if len(kept) != maxOperationEntries {
		t.Fatalf("expected %d entries kept, got %d", maxOperationEntries, len(kept))
	}
	if marker != "+2 more" {
		t.Fatalf("expected marker %q, got %q", "+2 more", marker)
	}
	for i, entry := range kept {
		if entry.Reason != "entry" {
			t.Fatalf("kept entry %d lost its data", i)
		}
	}
}
