// Package selector picks the consultant for a consultation: skills,
// language, working hours, per-operator limits, queue closures and fair
// load distribution. It is pure; all inputs are loaded by the caller.
package selector

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

// AccountingDepartment is the department an operator must belong to for
// accounting consultations.
const AccountingDepartment = "accounting_consultants"

// loadTieBand: candidates whose load ratio is strictly within this
// distance of the best are considered tied and drawn uniformly. A gap of
// exactly the band width is not a tie.
const loadTieBand = 0.1

// ErrNoCandidate means no operator passed all filters.
var ErrNoCandidate = errors.New("selector: no eligible operator")

// Input describes the consultation to place.
type Input struct {
	Now          time.Time
	Type         store.ConsultationType
	CategoryKey  *uuid.UUID
	POSectionKey *uuid.UUID
	// Language is the consultation's own hint ("ru"/"uz"), if any.
	Language string
	// CategoryLanguage is the language bound to the category, if known.
	CategoryLanguage string
}

// Candidate is one eligible operator with its current load.
type Candidate struct {
	Operator   store.Operator
	QueueCount int
	LoadRatio  float64
}

// Selector picks operators. IntN is swappable for deterministic tests;
// when nil, math/rand/v2 is used.
type Selector struct {
	IntN func(n int) int
}

func (s *Selector) intn(n int) int {
	if s.IntN != nil {
		return s.IntN(n)
	}
	return rand.IntN(n)
}

// Select returns the chosen operator. queueCounts maps manager key (string
// form) to active pending/open load across all sources; closed holds the
// managers whose queue is closed today.
func (s *Selector) Select(in Input, ops []store.Operator, queueCounts map[string]int, closed map[uuid.UUID]bool) (*Candidate, error) {
	eligible := filter(in, ops, closed)
	if len(eligible) == 0 {
		return nil, ErrNoCandidate
	}

	cands := make([]Candidate, 0, len(eligible))
	best := -1.0
	for _, op := range eligible {
		count := 0
		if op.ClRefKey != nil {
			count = queueCounts[op.ClRefKey.String()]
		}
		ratio := float64(count) / float64(op.ConLimit)
		cands = append(cands, Candidate{Operator: op, QueueCount: count, LoadRatio: ratio})
		if best < 0 || ratio < best {
			best = ratio
		}
	}

	tied := cands[:0:0]
	for _, c := range cands {
		if c.LoadRatio < best+loadTieBand {
			tied = append(tied, c)
		}
	}

	pick := tied[s.intn(len(tied))]
	return &pick, nil
}

// filter applies the candidate-set, hours, closure and skill filters in
// order, returning the highest-priority non-empty skill tier.
func filter(in Input, ops []store.Operator, closed map[uuid.UUID]bool) []store.Operator {
	var base []store.Operator
	for _, op := range ops {
		if op.DeletionMark || op.Invalid || !op.ConsultationEnabled || op.ConLimit <= 0 {
			continue
		}
		if in.Type == store.TypeAccounting {
			if op.Department != AccountingDepartment {
				continue
			}
			if op.StartHour == nil || op.EndHour == nil {
				continue
			}
		}
		if !withinHours(in.Now, op.StartHour, op.EndHour, in.Type) {
			continue
		}
		if op.ClRefKey != nil && closed[*op.ClRefKey] {
			continue
		}
		base = append(base, op)
	}

	if in.CategoryKey == nil && in.POSectionKey == nil {
		return base
	}

	if in.Type == store.TypeAccounting {
		return filterAccountingSkills(in, base)
	}
	return filterGeneralSkills(in, base)
}

// filterAccountingSkills is strict: exact category skill, matching
// language flags, no universal fallback.
func filterAccountingSkills(in Input, ops []store.Operator) []store.Operator {
	var out []store.Operator
	for _, op := range ops {
		if len(op.Skills) == 0 {
			continue
		}
		if in.CategoryKey != nil && !op.Skills[*in.CategoryKey] {
			continue
		}
		if !languageOK(op, in.CategoryLanguage) || !languageOK(op, in.Language) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// filterGeneralSkills builds three tiers: category match, any-skilled with
// a po section given, and universal (no skills). The first non-empty tier
// wins; universal operators only serve when no skilled one can.
func filterGeneralSkills(in Input, ops []store.Operator) []store.Operator {
	var matched, skilled, universal []store.Operator
	for _, op := range ops {
		switch {
		case in.CategoryKey != nil && op.Skills[*in.CategoryKey]:
			matched = append(matched, op)
		case len(op.Skills) > 0 && in.POSectionKey != nil:
			skilled = append(skilled, op)
		case len(op.Skills) == 0:
			universal = append(universal, op)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if len(skilled) > 0 {
		return skilled
	}
	return universal
}

func languageOK(op store.Operator, lang string) bool {
	switch strings.ToLower(lang) {
	case "ru":
		return op.RU
	case "uz":
		return op.UZ
	}
	// Unknown or absent language: no constraint.
	return true
}

// withinHours checks the operator's local working window. A window with
// start > end wraps midnight. Non-accounting operators with no hours set
// are always available.
func withinHours(now time.Time, start, end *string, typ store.ConsultationType) bool {
	if start == nil || end == nil {
		return typ != store.TypeAccounting
	}
	s, okS := parseMinutes(*start)
	e, okE := parseMinutes(*end)
	if !okS || !okE {
		return typ != store.TypeAccounting
	}

	cur := now.Hour()*60 + now.Minute()
	if s <= e {
		return cur >= s && cur <= e
	}
	// Wrap-around window, e.g. 22:00–06:00 admits 03:00.
	return cur >= s || cur <= e
}

func parseMinutes(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
