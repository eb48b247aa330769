package approval

import "fmt"

// CardType distinguishes the two card payload shapes request_approval_with_card
// knows how to build.
type CardType string

const (
	CardGeneric  CardType = "generic"
	CardTextDiff CardType = "text_diff"
)

// Card is the JSON-stringified body broadcast on the `CARD` WS event
// and persisted into RTDB at the thread's messages path.
type Card struct {
	CardType    CardType               `json:"card_type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Preview     *TextDiffPreview       `json:"preview,omitempty"`
}

// TextDiffPreview is the bounded before/after view attached to a
// CardTextDiff card.
type TextDiffPreview struct {
	OriginalPreview string              `json:"original_preview"`
	UpdatedPreview  string              `json:"updated_preview"`
	Operations      []OperationResult   `json:"operations"`
	MoreOperations  string              `json:"more_operations,omitempty"`
}

// BuildGenericCard builds a plain yes/no approval card.
func BuildGenericCard(title, description string, params map[string]interface{}) Card {
	return Card{CardType: CardGeneric, Title: title, Description: description, Params: params}
}

// BuildTextDiffCard builds the text-modification diff card: bounded
// previews of the original/updated text plus a capped operations
// summary, never the full texts.
func BuildTextDiffCard(title string, result UpdateResult) Card {
	kept, more := SummarizeOperations(result.Log)
	return Card{
		CardType: CardTextDiff,
		Title:    title,
		Preview: &TextDiffPreview{
			OriginalPreview: PreviewText(result.OriginalText),
			UpdatedPreview:  PreviewText(result.UpdatedText),
			Operations:      kept,
			MoreOperations:  more,
		},
	}
}

// Summary renders a short human-readable description of a card, used
// for the direct-message sidebar notification.
func (c Card) Summary() string {
	if c.CardType == CardTextDiff {
		return fmt.Sprintf("Approval requested: %s", c.Title)
	}
	return fmt.Sprintf("Approval requested: %s — %s", c.Title, c.Description)
}
