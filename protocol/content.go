package protocol

import (
	"encoding/json"
)

// ContentItemType discriminates between assistant content items.
type ContentItemType string

const (
	ContentItemText    ContentItemType = "text"
	ContentItemToolUse ContentItemType = "tool_use"
)

// ContentItem is one entry of an assistant frame's message.content array.
type ContentItem interface {
	ItemType() ContentItemType
	contentItem()
}

// TextItem is visible assistant text.
type TextItem struct {
	Text string `json:"text"`
}

// ItemType returns the item type.
func (TextItem) ItemType() ContentItemType { return ContentItemText }
func (TextItem) contentItem()              {}

// ToolUseItem is a tool invocation. Its input is kept opaque.
type ToolUseItem struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ItemType returns the item type.
func (ToolUseItem) ItemType() ContentItemType { return ContentItemToolUse }
func (ToolUseItem) contentItem()              {}

// OtherItem preserves content items of any other type (thinking, images,
// server tools) so renderers still see them in arrival order.
type OtherItem struct {
	Type ContentItemType
	Raw  json.RawMessage
}

// ItemType returns the item type.
func (o OtherItem) ItemType() ContentItemType { return o.Type }
func (OtherItem) contentItem()                {}

// ParseContent decodes an assistant message.content value. A JSON string is
// treated as a single text item; an absent or null value yields no items.
// Objects, numbers and booleans are rejected. Malformed array elements are
// left out and counted in skipped.
func ParseContent(raw json.RawMessage) (items []ContentItem, skipped int, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return []ContentItem{}, 0, true
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, 0, false
		}
		if s == "" {
			return []ContentItem{}, 0, true
		}
		return []ContentItem{TextItem{Text: s}}, 0, true
	case '[':
	default:
		return nil, 0, false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, false
	}

	items = make([]ContentItem, 0, len(elems))
	for _, elem := range elems {
		item, err := unmarshalContentItem(elem)
		if err != nil {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped, true
}

func unmarshalContentItem(data json.RawMessage) (ContentItem, error) {
	var base struct {
		Type ContentItemType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case ContentItemText:
		var t TextItem
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return t, nil
	case ContentItemToolUse:
		var t ToolUseItem
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return OtherItem{Type: base.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
