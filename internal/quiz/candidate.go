package quiz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"echo-study/internal/llm"
)

// Type is a question format the generator may produce.
type Type string

const (
	TypeMCQ       Type = "mcq"
	TypeShort     Type = "short"
	TypeFillBlank Type = "fillblank"
	TypeTrueFalse Type = "truefalse"
)

// DefaultTypes is the allow-list used when a request names none.
var DefaultTypes = []Type{TypeMCQ, TypeShort, TypeFillBlank, TypeTrueFalse}

var typeAliases = map[string]Type{
	"mcq":             TypeMCQ,
	"multiple_choice": TypeMCQ,
	"short":           TypeShort,
	"short_answer":    TypeShort,
	"fillblank":       TypeFillBlank,
	"fillinblank":     TypeFillBlank,
	"fill_in_blank":   TypeFillBlank,
	"truefalse":       TypeTrueFalse,
	"true_false":      TypeTrueFalse,
}

// ParseType normalizes a raw type label. Unknown labels are returned
// lower-cased so they can still be rejected by a TypeSet.
func ParseType(raw string) Type {
	key := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return Type(key)
}

// ParseTypes normalizes and de-duplicates a list of raw labels, preserving order.
func ParseTypes(raw []string) []Type {
	out := make([]Type, 0, len(raw))
	seen := make(map[Type]struct{}, len(raw))
	for _, r := range raw {
		t := ParseType(r)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TypeSet is an ordered allow-list of question types.
type TypeSet struct {
	order []Type
	set   map[Type]struct{}
}

// NewTypeSet builds an allow-list. Entries are normalized with ParseType so
// aliases and casing match the candidates they are checked against.
func NewTypeSet(types ...Type) TypeSet {
	ts := TypeSet{set: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		t = ParseType(string(t))
		if t == "" {
			continue
		}
		if _, ok := ts.set[t]; ok {
			continue
		}
		ts.set[t] = struct{}{}
		ts.order = append(ts.order, t)
	}
	return ts
}

func (s TypeSet) Contains(t Type) bool {
	_, ok := s.set[t]
	return ok
}

func (s TypeSet) Len() int { return len(s.order) }

func (s TypeSet) Types() []Type {
	return append([]Type(nil), s.order...)
}

func (s TypeSet) String() string {
	labels := make([]string, len(s.order))
	for i, t := range s.order {
		labels[i] = string(t)
	}
	return strings.Join(labels, ", ")
}

// Answer holds the model's answer, which arrives as a JSON string, boolean or number.
type Answer struct {
	Text string
	Bool *bool
}

func TextAnswer(s string) Answer { return Answer{Text: s} }

func BoolAnswer(b bool) Answer { return Answer{Bool: &b} }

// UnmarshalJSON never fails on well-formed JSON: shapes other than a string,
// boolean, number or list of strings are kept as their raw JSON text.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer{Text: s}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err == nil {
			*a = BoolAnswer(b)
			return nil
		}
	case '[':
		var parts []string
		if err := json.Unmarshal(data, &parts); err == nil {
			*a = Answer{Text: strings.Join(parts, ", ")}
			return nil
		}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err == nil {
			*a = Answer{Text: n.String()}
			return nil
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	*a = Answer{Text: compact.String()}
	return nil
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Bool != nil {
		return json.Marshal(*a.Bool)
	}
	return json.Marshal(a.Text)
}

func (a Answer) String() string {
	if a.Bool != nil {
		return strconv.FormatBool(*a.Bool)
	}
	return a.Text
}

// Candidate is one question object exactly as the generator returned it.
type Candidate struct {
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      Answer   `json:"answer"`
	Explanation string   `json:"explanation"`
	Difficulty  string   `json:"difficulty"`
}

// UnmarshalJSON decodes a candidate leniently. Only a non-object element is
// an error; fields of an unexpected shape are left empty and the question is
// judged on its text and type alone.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        json.RawMessage `json:"type"`
		Question    json.RawMessage `json:"question"`
		Options     json.RawMessage `json:"options"`
		Answer      json.RawMessage `json:"answer"`
		Explanation json.RawMessage `json:"explanation"`
		Difficulty  json.RawMessage `json:"difficulty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Candidate{
		Type:        rawString(raw.Type),
		Question:    rawString(raw.Question),
		Explanation: rawString(raw.Explanation),
		Difficulty:  rawString(raw.Difficulty),
	}
	if len(raw.Options) > 0 {
		var opts []string
		if err := json.Unmarshal(raw.Options, &opts); err == nil {
			c.Options = opts
		}
	}
	if len(raw.Answer) > 0 {
		if err := c.Answer.UnmarshalJSON(raw.Answer); err != nil {
			c.Answer = Answer{}
		}
	}
	return nil
}

func rawString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}

// Question is a candidate that passed validation.
type Question struct {
	Type        Type     `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      Answer   `json:"answer"`
	Explanation string   `json:"explanation"`
	Difficulty  string   `json:"difficulty"`
}

var (
	ErrMissingQuestion = errors.New("candidate has no question text")
	ErrMissingType     = errors.New("candidate has no type")
	ErrTypeNotAllowed  = errors.New("candidate type not allowed")
)

// Validate checks a candidate against the allow-list and converts it.
// Options are kept only for multiple choice.
func (c Candidate) Validate(allowed TypeSet) (Question, error) {
	text := strings.TrimSpace(c.Question)
	if text == "" {
		return Question{}, ErrMissingQuestion
	}
	if strings.TrimSpace(c.Type) == "" {
		return Question{}, ErrMissingType
	}
	t := ParseType(c.Type)
	if !allowed.Contains(t) {
		return Question{}, fmt.Errorf("%w: %q", ErrTypeNotAllowed, c.Type)
	}

	q := Question{
		Type:        t,
		Question:    text,
		Answer:      c.Answer,
		Explanation: strings.TrimSpace(c.Explanation),
		Difficulty:  strings.TrimSpace(c.Difficulty),
	}
	if t == TypeMCQ && len(c.Options) > 0 {
		q.Options = append([]string(nil), c.Options...)
	}
	return q, nil
}

// Normalize returns the key used for duplicate detection.
func Normalize(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// ParseCandidates decodes a generator response into candidates. The response
// must be a JSON array, optionally wrapped in a Markdown code fence. Array
// elements that do not decode into a candidate are dropped and counted.
func ParseCandidates(raw string) ([]Candidate, int, error) {
	body := llm.StripFence(raw)
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, 0, fmt.Errorf("decode candidate array: %w", err)
	}

	out := make([]Candidate, 0, len(items))
	dropped := 0
	for _, item := range items {
		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped, nil
}
