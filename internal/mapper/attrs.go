package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/consbridge/consbridge/internal/store"
)

// The fixed subset of consultation fields mirrored into CHAT custom
// attributes. Only these keys cross the boundary, in either direction.
const (
	AttrNumberCon        = "number_con"
	AttrDateCon          = "date_con"
	AttrConEnd           = "con_end"
	AttrRedateCon        = "redate_con"
	AttrRetimeCon        = "retime_con"
	AttrConsultationType = "consultation_type"
	AttrClosedWithoutCon = "closed_without_con"
)

const (
	attrDateLayout = "2006-01-02"
	attrTimeLayout = "15:04"
)

// MirrorAttributes builds the outbound custom-attribute patch for a
// consultation. Absent values are mirrored as empty strings so a cleared
// field clears on the CHAT side too.
func MirrorAttributes(c *store.Consultation) map[string]any {
	attrs := map[string]any{
		AttrNumberCon:        c.Number,
		AttrDateCon:          formatTimePtr(c.StartDate, time.RFC3339),
		AttrConEnd:           formatTimePtr(c.EndDate, time.RFC3339),
		AttrRedateCon:        formatTimePtr(c.Redate, attrDateLayout),
		AttrRetimeCon:        "",
		AttrConsultationType: string(c.Type),
		AttrClosedWithoutCon: c.Denied,
	}
	if c.RedateTime != nil {
		attrs[AttrRetimeCon] = *c.RedateTime
	}
	return attrs
}

func formatTimePtr(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(layout)
}

// ParsedAttributes carries the inbound mirrored subset. A nil field means
// the key was absent from the webhook payload; a non-nil pointer to a zero
// value means it was present but empty (treated as a clear).
type ParsedAttributes struct {
	DateCon          *time.Time
	ConEnd           *time.Time
	RedateCon        *time.Time
	RetimeCon        *string
	ClosedWithoutCon *bool
}

// ParseAttributes leniently decodes the mirrored subset from a webhook
// custom_attributes map. Unknown keys are ignored; unparseable values for
// known keys produce an error naming the key.
func ParseAttributes(m map[string]any) (ParsedAttributes, error) {
	var out ParsedAttributes

	if v, ok := m[AttrDateCon]; ok {
		t, err := lenientTime(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", AttrDateCon, err)
		}
		out.DateCon = t
	}
	if v, ok := m[AttrConEnd]; ok {
		t, err := lenientTime(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", AttrConEnd, err)
		}
		out.ConEnd = t
	}
	if v, ok := m[AttrRedateCon]; ok {
		t, err := lenientTime(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", AttrRedateCon, err)
		}
		out.RedateCon = t
	}
	if v, ok := m[AttrRetimeCon]; ok {
		s, err := lenientTimeOfDay(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", AttrRetimeCon, err)
		}
		out.RetimeCon = s
	}
	if v, ok := m[AttrClosedWithoutCon]; ok {
		b, err := lenientBool(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", AttrClosedWithoutCon, err)
		}
		out.ClosedWithoutCon = &b
	}

	return out, nil
}

// lenientTime accepts ISO 8601 with or without time, or an empty value.
func lenientTime(v any) (*time.Time, error) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", attrDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp %q", s)
}

// lenientTimeOfDay accepts HH:MM or HH:MM:SS.
func lenientTimeOfDay(v any) (*string, error) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		t, err = time.Parse(attrTimeLayout, s)
	}
	if err != nil {
		return nil, fmt.Errorf("unparseable time of day %q", s)
	}
	norm := t.Format(attrTimeLayout)
	return &norm, nil
}

// lenientBool accepts bool, "true"/"false" (any case), and 0/1 in either
// numeric or string form.
func lenientBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("unparseable bool %q", x)
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case json.Number:
		n, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}
