// Package models defines the data structures persisted in a case store.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownField indicates a field name outside KnownFields.
var ErrUnknownField = errors.New("unknown case field")

// Field names a caller may set or clear on a case record.
const (
	FieldCodes          = "codes"
	FieldCandidateTheme = "candidate_theme"
	FieldFinalTheme     = "final_theme"
)

// KnownFields lists the mutable annotation fields in clearing order.
var KnownFields = []string{FieldCodes, FieldCandidateTheme, FieldFinalTheme}

// CaseRecord is one analyzed narrative. The annotation fields are absent
// until the corresponding phase produces them; re-running a phase after a
// field was cleared overwrites, it never appends.
type CaseRecord struct {
	// Text is the source narrative. The pipeline never mutates it.
	Text string

	// TextShort is an optional condensed narrative. When present it is
	// preferred over Text for prompt construction.
	TextShort string

	// Codes holds the initial codes. nil means the case has not been
	// through initial coding yet.
	Codes StringList

	CandidateTheme string
	FinalTheme     string

	// extra carries fields this pipeline does not own. Every store write
	// is a whole-file rewrite, so unknown fields must round-trip intact.
	extra map[string]json.RawMessage
}

// PromptText returns the narrative to embed in a prompt, preferring the
// condensed form when the dataset carries one.
func (c *CaseRecord) PromptText() string {
	if c.TextShort != "" {
		return c.TextShort
	}
	return c.Text
}

// Clear removes the named annotation field. Unknown field names are rejected
// so a typo in an API call cannot silently no-op.
func (c *CaseRecord) Clear(field string) error {
	switch field {
	case FieldCodes:
		c.Codes = nil
	case FieldCandidateTheme:
		c.CandidateTheme = ""
	case FieldFinalTheme:
		c.FinalTheme = ""
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func (c *CaseRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = CaseRecord{}
	for key, val := range raw {
		var err error
		switch key {
		case "text":
			err = json.Unmarshal(val, &c.Text)
		case "text_short":
			err = json.Unmarshal(val, &c.TextShort)
		case FieldCodes:
			err = json.Unmarshal(val, &c.Codes)
		case FieldCandidateTheme:
			err = json.Unmarshal(val, &c.CandidateTheme)
		case FieldFinalTheme:
			err = json.Unmarshal(val, &c.FinalTheme)
		default:
			if c.extra == nil {
				c.extra = make(map[string]json.RawMessage)
			}
			c.extra[key] = val
		}
		if err != nil {
			return fmt.Errorf("case field %q: %w", key, err)
		}
	}
	return nil
}

func (c CaseRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.extra)+5)
	for key, val := range c.extra {
		out[key] = val
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("case field %q: %w", key, err)
		}
		out[key] = b
		return nil
	}

	if err := set("text", c.Text); err != nil {
		return nil, err
	}
	if c.TextShort != "" {
		if err := set("text_short", c.TextShort); err != nil {
			return nil, err
		}
	}
	if c.Codes != nil {
		if err := set(FieldCodes, c.Codes); err != nil {
			return nil, err
		}
	}
	if c.CandidateTheme != "" {
		if err := set(FieldCandidateTheme, c.CandidateTheme); err != nil {
			return nil, err
		}
	}
	if c.FinalTheme != "" {
		if err := set(FieldFinalTheme, c.FinalTheme); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

// StringList is a list of label strings. Older datasets stored a single code
// as a bare string; both forms are accepted on read and normalized to an
// array, order preserved.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}
