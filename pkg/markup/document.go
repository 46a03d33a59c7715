package markup

import (
	"encoding/json"
	"fmt"
)

// Rectangle locates a mark on its page, in page coordinates.
type Rectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Mark is one rectangle redaction of a markup document.
type Mark struct {
	PageNumber int
	Rectangle  *Rectangle
	Style      Style
}

// Document is the markup JSON the remote burner consumes: {"marks": [...]}.
type Document struct {
	Marks []Mark
}

func (m Mark) object() (Object, error) {
	o := Object{
		{Key: "type", Value: RectangleRedaction},
		{Key: "pageNumber", Value: m.PageNumber},
	}
	if m.Rectangle != nil {
		o = append(o, Field{Key: "rectangle", Value: *m.Rectangle})
	}
	return appendStyle(o, m.Style)
}

func (m Mark) MarshalJSON() ([]byte, error) {
	o, err := m.object()
	if err != nil {
		return nil, err
	}
	return json.Marshal(o)
}

func (d Document) MarshalJSON() ([]byte, error) {
	marks := make([]Object, 0, len(d.Marks))
	for i, m := range d.Marks {
		o, err := m.object()
		if err != nil {
			return nil, fmt.Errorf("mark %d: %w", i, err)
		}
		marks = append(marks, o)
	}
	return json.Marshal(Object{{Key: "marks", Value: marks}})
}
