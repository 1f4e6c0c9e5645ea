package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawRule is the stored JSON document of a badge unlock rule.
type RawRule = json.RawMessage

// Attribute names a value of UserState that rules can test.
type Attribute string

const (
	AttrTotalCompletedQuests         Attribute = "total_completed_quests"
	AttrCompletedQuestsByCategory    Attribute = "completed_quests_by_category"
	AttrLevel                        Attribute = "level"
	AttrTotalXP                      Attribute = "total_xp"
	AttrTotalPoints                  Attribute = "total_points"
	AttrTotalBadges                  Attribute = "total_badges"
	AttrBadgeCountByRarity           Attribute = "badge_count_by_rarity"
	AttrAllQuestsCompletedInCategory Attribute = "all_quests_completed_in_category"
)

type attrSpec struct {
	param   string // "", "category" or "rarity"
	boolean bool
}

var vocabulary = map[Attribute]attrSpec{
	AttrTotalCompletedQuests:         {},
	AttrCompletedQuestsByCategory:    {param: "category"},
	AttrLevel:                        {},
	AttrTotalXP:                      {},
	AttrTotalPoints:                  {},
	AttrTotalBadges:                  {},
	AttrBadgeCountByRarity:           {param: "rarity"},
	AttrAllQuestsCompletedInCategory: {param: "category", boolean: true},
}

// Op is a comparison operator.
type Op string

const (
	OpGTE Op = ">="
	OpGT  Op = ">"
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpLTE Op = "<="
	OpLT  Op = "<"
)

func (o Op) valid() bool {
	switch o {
	case OpGTE, OpGT, OpEQ, OpNE, OpLTE, OpLT:
		return true
	}
	return false
}

func (o Op) compare(a, b int64) bool {
	switch o {
	case OpGTE:
		return a >= b
	case OpGT:
		return a > b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	case OpLTE:
		return a <= b
	case OpLT:
		return a < b
	}
	return false
}

// Rule is a node of a badge unlock predicate tree.
type Rule interface {
	Eval(state UserState) bool
}

// Check compares one state attribute against a threshold.
type Check struct {
	Attribute Attribute
	Param     string
	Op        Op
	Value     int64
	Bool      bool
}

func (c Check) Eval(s UserState) bool {
	if vocabulary[c.Attribute].boolean {
		got := s.AllCompletedIn(Category(c.Param))
		if c.Op == OpNE {
			return got != c.Bool
		}
		return got == c.Bool
	}
	return c.Op.compare(s.numeric(c.Attribute, c.Param), c.Value)
}

// All is a logical AND. An empty All is true.
type All []Rule

func (a All) Eval(s UserState) bool {
	for _, r := range a {
		if !r.Eval(s) {
			return false
		}
	}
	return true
}

// Any is a logical OR. An empty Any is false.
type Any []Rule

func (a Any) Eval(s UserState) bool {
	for _, r := range a {
		if r.Eval(s) {
			return true
		}
	}
	return false
}

// Not negates its operand.
type Not struct{ Rule Rule }

func (n Not) Eval(s UserState) bool { return !n.Rule.Eval(s) }

// ParseRule decodes a rule document. Errors wrap ErrInvalidRule.
func ParseRule(raw RawRule) (Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return parseNode(doc)
}

func parseNode(doc any) (Rule, error) {
	switch n := doc.(type) {
	case []any:
		rules, err := parseList(n, "array")
		if err != nil {
			return nil, err
		}
		return All(rules), nil
	case map[string]any:
		return parseObject(n)
	default:
		return nil, fmt.Errorf("%w: unexpected %T node", ErrInvalidRule, doc)
	}
}

func parseList(items []any, name string) ([]Rule, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidRule, name)
	}
	out := make([]Rule, 0, len(items))
	for i, item := range items {
		r, err := parseNode(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseObject(obj map[string]any) (Rule, error) {
	if v, ok := obj["all"]; ok {
		items, isList := v.([]any)
		if !isList || len(obj) != 1 {
			return nil, fmt.Errorf("%w: \"all\" must be the only key and hold an array", ErrInvalidRule)
		}
		rules, err := parseList(items, "all")
		return All(rules), err
	}
	if v, ok := obj["any"]; ok {
		items, isList := v.([]any)
		if !isList || len(obj) != 1 {
			return nil, fmt.Errorf("%w: \"any\" must be the only key and hold an array", ErrInvalidRule)
		}
		rules, err := parseList(items, "any")
		if err != nil {
			return nil, err
		}
		return Any(rules), nil
	}
	if v, ok := obj["not"]; ok {
		if len(obj) != 1 {
			return nil, fmt.Errorf("%w: \"not\" must be the only key", ErrInvalidRule)
		}
		inner, err := parseNode(v)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Rule: inner}, nil
	}
	if _, ok := obj["attribute"]; ok {
		return parseCheck(obj)
	}
	return nil, fmt.Errorf("%w: node needs one of all, any, not, attribute", ErrInvalidRule)
}

func parseCheck(obj map[string]any) (Rule, error) {
	for k := range obj {
		switch k {
		case "attribute", "op", "value":
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidRule, k)
		}
	}
	name, ok := obj["attribute"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: attribute must be a string", ErrInvalidRule)
	}
	attr, param, err := ParseAttribute(name)
	if err != nil {
		return nil, err
	}
	c := Check{Attribute: attr, Param: param, Op: OpEQ}
	if raw, ok := obj["op"]; ok {
		s, isString := raw.(string)
		if !isString || !Op(s).valid() {
			return nil, fmt.Errorf("%w: unsupported operator %v", ErrInvalidRule, raw)
		}
		c.Op = Op(s)
	}

	if vocabulary[attr].boolean {
		if c.Op != OpEQ && c.Op != OpNE {
			return nil, fmt.Errorf("%w: %s only supports == and !=", ErrInvalidRule, attr)
		}
		c.Bool = true
		if raw, ok := obj["value"]; ok {
			b, isBool := raw.(bool)
			if !isBool {
				return nil, fmt.Errorf("%w: %s needs a boolean value", ErrInvalidRule, attr)
			}
			c.Bool = b
		}
		return c, nil
	}

	raw, ok := obj["value"]
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a value", ErrInvalidRule, attr)
	}
	num, isNum := raw.(json.Number)
	if !isNum {
		return nil, fmt.Errorf("%w: %s needs a numeric value", ErrInvalidRule, attr)
	}
	v, err := num.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s value must be an integer", ErrInvalidRule, attr)
	}
	c.Value = v
	return c, nil
}

// ParseAttribute splits "name[param]" and checks it against the vocabulary.
func ParseAttribute(s string) (Attribute, string, error) {
	s = strings.TrimSpace(s)
	name, param := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return "", "", fmt.Errorf("%w: malformed attribute %q", ErrInvalidRule, s)
		}
		name, param = s[:i], strings.TrimSpace(s[i+1:len(s)-1])
	}
	attr := Attribute(name)
	spec, ok := vocabulary[attr]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown attribute %q", ErrInvalidRule, name)
	}
	switch spec.param {
	case "":
		if param != "" {
			return "", "", fmt.Errorf("%w: %s takes no parameter", ErrInvalidRule, name)
		}
	case "category":
		if !Category(param).Valid() {
			return "", "", fmt.Errorf("%w: unknown category %q", ErrInvalidRule, param)
		}
	case "rarity":
		if !Rarity(param).Valid() {
			return "", "", fmt.Errorf("%w: unknown rarity %q", ErrInvalidRule, param)
		}
	}
	return attr, param, nil
}
