package markup

import (
	"encoding/json"
	"fmt"
)

// MatcherCodec encodes the find block for one matcher kind.
// Encode returns ok=false when the matcher is empty; the rule is then skipped.
type MatcherCodec struct {
	Kind   MatcherKind
	Encode func(m Matcher) (find Object, ok bool, err error)
}

// Compiler turns ordered redaction rules into the rule documents the remote
// redaction creator consumes. It holds no state beyond its codec table and is
// safe for concurrent use.
type Compiler struct {
	codecs []MatcherCodec
}

// NewCompiler builds a Compiler from an ordered codec table.
// When two codecs share a kind the first one wins.
func NewCompiler(codecs ...MatcherCodec) *Compiler {
	return &Compiler{codecs: append([]MatcherCodec(nil), codecs...)}
}

// DefaultCompiler returns a Compiler that knows every built-in matcher kind.
func DefaultCompiler() *Compiler {
	return NewCompiler(MatcherCodec{Kind: MatcherRegex, Encode: encodeRegex})
}

// Compile encodes rules in order. Rules whose matcher is absent or empty
// produce no output. The result is never nil.
func (c *Compiler) Compile(rules []Rule) ([]Object, error) {
	out := make([]Object, 0, len(rules))
	for i, rule := range rules {
		if rule.Find == nil {
			continue
		}
		codec, ok := c.lookup(rule.Find.Kind())
		if !ok {
			return nil, fmt.Errorf("rule %d: %w: %q", i, ErrUnknownMatcher, rule.Find.Kind())
		}
		find, ok, err := codec.Encode(rule.Find)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if !ok {
			continue
		}
		redactWith, err := appendStyle(Object{{Key: "type", Value: RectangleRedaction}}, rule.RedactWith)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, Object{
			{Key: "find", Value: find},
			{Key: "redactWith", Value: redactWith},
		})
	}
	return out, nil
}

// CompileJSON is Compile followed by JSON encoding of the rule array.
func (c *Compiler) CompileJSON(rules []Rule) ([]byte, error) {
	compiled, err := c.Compile(rules)
	if err != nil {
		return nil, err
	}
	return json.Marshal(compiled)
}

func (c *Compiler) lookup(kind MatcherKind) (MatcherCodec, bool) {
	for _, codec := range c.codecs {
		if codec.Kind == kind {
			return codec, true
		}
	}
	return MatcherCodec{}, false
}

func encodeRegex(m Matcher) (Object, bool, error) {
	var pattern string
	switch rm := m.(type) {
	case RegexMatcher:
		pattern = rm.Pattern
	case *RegexMatcher:
		if rm == nil {
			return nil, false, nil
		}
		pattern = rm.Pattern
	default:
		return nil, false, fmt.Errorf("%w: %T registered as regex", ErrUnknownMatcher, m)
	}
	if pattern == "" {
		return nil, false, nil
	}
	return Object{
		{Key: "type", Value: MatcherRegex},
		{Key: "pattern", Value: pattern},
	}, true, nil
}

// appendStyle writes the optional style fields in their fixed wire order:
// reason, fontColor, fillColor, borderColor, borderThickness, data.
func appendStyle(o Object, s Style) (Object, error) {
	if s.Reason != nil {
		o = append(o, Field{Key: "reason", Value: *s.Reason})
	}
	colors := []struct {
		key   string
		value *string
	}{
		{"fontColor", s.FontColor},
		{"fillColor", s.FillColor},
		{"borderColor", s.BorderColor},
	}
	for _, c := range colors {
		if c.value == nil {
			continue
		}
		if !reColor.MatchString(*c.value) {
			return nil, fmt.Errorf("%s %q: %w", c.key, *c.value, ErrInvalidColor)
		}
		o = append(o, Field{Key: c.key, Value: *c.value})
	}
	if s.BorderThickness != nil {
		if *s.BorderThickness < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidBorderThickness, *s.BorderThickness)
		}
		o = append(o, Field{Key: "borderThickness", Value: *s.BorderThickness})
	}
	if data := encodeData(s.Data); len(data) > 0 {
		o = append(o, Field{Key: "data", Value: data})
	}
	return o, nil
}

func encodeData(d Data) Object {
	var o Object
	for _, e := range d {
		if e.Value == nil {
			continue
		}
		o = o.Set(e.Key, *e.Value)
	}
	return o
}
