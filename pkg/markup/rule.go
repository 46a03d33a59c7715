package markup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// RectangleRedaction is the only mark type the redaction rule family produces.
const RectangleRedaction = "RectangleRedaction"

var (
	ErrUnknownMatcher         = errors.New("unknown matcher kind")
	ErrInvalidColor           = errors.New("color must be a 6 hex digit RGB value")
	ErrInvalidBorderThickness = errors.New("border thickness must be non-negative")
)

var reColor = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// MatcherKind tags a matcher variant. It is also the wire value of find.type.
type MatcherKind string

const MatcherRegex MatcherKind = "regex"

// Matcher selects the text a rule redacts. The set of kinds is closed; each
// kind needs a MatcherCodec registered with the Compiler.
type Matcher interface {
	Kind() MatcherKind
}

// RegexMatcher matches every occurrence of Pattern. An empty Pattern matches nothing.
type RegexMatcher struct {
	Pattern string
}

func (RegexMatcher) Kind() MatcherKind { return MatcherRegex }

// Style holds the redactWith options. Nil fields are omitted from the wire
// so the remote server applies its own defaults.
type Style struct {
	Reason          *string `json:"reason,omitempty"`
	FontColor       *string `json:"fontColor,omitempty"`
	FillColor       *string `json:"fillColor,omitempty"`
	BorderColor     *string `json:"borderColor,omitempty"`
	BorderThickness *int    `json:"borderThickness,omitempty"`
	Data            Data    `json:"data,omitempty"`
}

// DataEntry is one key of a redaction's data mapping. A nil Value is never sent.
type DataEntry struct {
	Key   string
	Value *string
}

// Data is an ordered string mapping attached verbatim to every redaction a rule creates.
type Data []DataEntry

// Set returns d with key=value added, or with the value replaced at its
// existing position when key is already present.
func (d Data) Set(key, value string) Data {
	return d.put(key, &value)
}

// SetNull records key with no value. It is dropped when encoding.
func (d Data) SetNull(key string) Data {
	return d.put(key, nil)
}

// MarshalJSON encodes the non-null entries as an object in insertion order.
func (d Data) MarshalJSON() ([]byte, error) {
	o := encodeData(d)
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

// UnmarshalJSON reads an object of string or null values, keeping key order.
func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data must be an object, got %v", tok)
	}

	var out Data
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value *string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("data %q: %w", key, err)
		}
		out = out.put(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

// put returns a copy of d with key set. d itself is never modified.
func (d Data) put(key string, value *string) Data {
	out := make(Data, len(d), len(d)+1)
	copy(out, d)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, DataEntry{Key: key, Value: value})
}

// Rule pairs a matcher with the style of the redactions it creates.
type Rule struct {
	Find       Matcher
	RedactWith Style
}

// RegexRule returns a rule with a regex matcher and no style options.
func RegexRule(pattern string) Rule {
	return Rule{Find: RegexMatcher{Pattern: pattern}}
}

// String returns a pointer to s, for optional Style fields.
func String(s string) *string { return &s }

// Int returns a pointer to n, for optional Style fields.
func Int(n int) *int { return &n }
