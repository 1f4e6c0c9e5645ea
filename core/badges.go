package core

import "sort"

// BadgeEvaluator interprets badge unlock rules. Parse defaults to parsing
// the badge's UnlockRule on every call; callers may plug in a cache.
type BadgeEvaluator struct {
	Parse func(Badge) (Rule, error)
}

func (e BadgeEvaluator) parse(b Badge) (Rule, error) {
	if e.Parse != nil {
		return e.Parse(b)
	}
	return ParseRule(b.UnlockRule)
}

// Evaluate tests every badge not in unlocked against state and returns the
// qualifying ones sorted by rarity then id. Malformed rules are skipped and
// reported as *RuleError diagnostics.
func (e BadgeEvaluator) Evaluate(state UserState, badges []Badge, unlocked map[BadgeID]struct{}) ([]Badge, []error) {
	var (
		out   []Badge
		diags []error
	)
	for _, b := range badges {
		if _, ok := unlocked[b.ID]; ok {
			continue
		}
		rule, err := e.parse(b)
		if err != nil {
			diags = append(diags, &RuleError{BadgeID: b.ID, Err: err})
			continue
		}
		if rule.Eval(state) {
			out = append(out, b)
		}
	}
	SortBadges(out)
	return out, diags
}

// Resolve repeats Evaluate, folding each pass's unlocks into the state, until
// no further badge qualifies. Badges gated on badge counts therefore unlock in
// the same call as the badges they count.
func (e BadgeEvaluator) Resolve(state UserState, badges []Badge, unlocked map[BadgeID]struct{}) ([]Badge, []error) {
	owned := make(map[BadgeID]struct{}, len(unlocked))
	for id := range unlocked {
		owned[id] = struct{}{}
	}
	var all []Badge
	var diags []error
	for pass := 0; pass <= len(badges); pass++ {
		next, d := e.Evaluate(state, badges, owned)
		if pass == 0 {
			diags = d
		}
		if len(next) == 0 {
			break
		}
		for _, b := range next {
			owned[b.ID] = struct{}{}
			state = state.WithBadge(b)
		}
		all = append(all, next...)
	}
	SortBadges(all)
	return all, diags
}

// EvaluateBadges is a single evaluation pass with the default rule parser.
func EvaluateBadges(state UserState, badges []Badge, unlocked map[BadgeID]struct{}) ([]Badge, []error) {
	return BadgeEvaluator{}.Evaluate(state, badges, unlocked)
}

// SortBadges orders badges by rarity ascending, then id.
func SortBadges(badges []Badge) {
	sort.SliceStable(badges, func(i, j int) bool {
		ri, rj := badges[i].Rarity.Rank(), badges[j].Rarity.Rank()
		if ri != rj {
			return ri < rj
		}
		return badges[i].ID < badges[j].ID
	})
}
