// Package strategy defines Version's traffic-split policy: either a
// relative weight or a URL query-string substring match.
package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/qpackt/qpackt/internal/qpackterr"
)

// Strategy is a tagged union, encoded as a single-key JSON object:
// {"Weight":10} or {"UrlParam":"beta"}.
type Strategy struct {
	Weight   *uint16
	URLParam *string
}

// NewWeight returns a Weight(w) strategy.
func NewWeight(w uint16) Strategy {
	return Strategy{Weight: &w}
}

// NewURLParam returns a UrlParam(needle) strategy.
func NewURLParam(needle string) Strategy {
	return Strategy{URLParam: &needle}
}

// IsWeight reports whether this is a Weight strategy, returning its value.
func (s Strategy) IsWeight() (uint16, bool) {
	if s.Weight == nil {
		return 0, false
	}
	return *s.Weight, true
}

// IsURLParam reports whether this is a UrlParam strategy, returning its
// needle.
func (s Strategy) IsURLParam() (string, bool) {
	if s.URLParam == nil {
		return "", false
	}
	return *s.URLParam, true
}

type wireWeight struct {
	Weight uint16 `json:"Weight"`
}

type wireURLParam struct {
	UrlParam string `json:"UrlParam"`
}

// MarshalJSON produces the single-key tagged shape the admin API and
// storage layer both expect.
func (s Strategy) MarshalJSON() ([]byte, error) {
	switch {
	case s.Weight != nil:
		return json.Marshal(wireWeight{Weight: *s.Weight})
	case s.URLParam != nil:
		return json.Marshal(wireURLParam{UrlParam: *s.URLParam})
	default:
		return nil, qpackterr.New(qpackterr.Serialization, "strategy has neither Weight nor UrlParam set")
	}
}

// UnmarshalJSON accepts exactly one of {"Weight":N} or {"UrlParam":"s"}.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return qpackterr.Wrap(qpackterr.Serialization, "decoding strategy", err)
	}
	if len(probe) != 1 {
		return qpackterr.New(qpackterr.Serialization, fmt.Sprintf("strategy must have exactly one key, got %d", len(probe)))
	}
	if raw, ok := probe["Weight"]; ok {
		var w uint16
		if err := json.Unmarshal(raw, &w); err != nil {
			return qpackterr.Wrap(qpackterr.Serialization, "decoding Weight", err)
		}
		s.Weight = &w
		s.URLParam = nil
		return nil
	}
	if raw, ok := probe["UrlParam"]; ok {
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return qpackterr.Wrap(qpackterr.Serialization, "decoding UrlParam", err)
		}
		s.URLParam = &p
		s.Weight = nil
		return nil
	}
	return qpackterr.New(qpackterr.Serialization, "strategy key must be Weight or UrlParam")
}
