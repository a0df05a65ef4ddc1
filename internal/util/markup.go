package util

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupSanitizer strips markup from untrusted text. Values without '<' are
// returned unchanged so ordinary input (including '&') is never re-encoded.
type MarkupSanitizer struct {
	policy *bluemonday.Policy
	exempt map[string]struct{}
}

func NewMarkupSanitizer(exemptFields ...string) *MarkupSanitizer {
	exempt := make(map[string]struct{}, len(exemptFields))
	for _, field := range exemptFields {
		exempt[strings.ToLower(field)] = struct{}{}
	}
	return &MarkupSanitizer{policy: bluemonday.StrictPolicy(), exempt: exempt}
}

func (s *MarkupSanitizer) Exempt(field string) bool {
	_, ok := s.exempt[strings.ToLower(field)]
	return ok
}

func (s *MarkupSanitizer) String(value string) string {
	if !strings.Contains(value, "<") {
		return value
	}
	return s.policy.Sanitize(value)
}

// Value walks a decoded JSON value and sanitizes every string in it.
// Object members named by an exempt field are left untouched.
func (s *MarkupSanitizer) Value(value any) any {
	switch typed := value.(type) {
	case string:
		return s.String(typed)
	case map[string]any:
		for key, member := range typed {
			if s.Exempt(key) {
				continue
			}
			typed[key] = s.Value(member)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = s.Value(item)
		}
		return typed
	default:
		return value
	}
}
