package model

import (
	"encoding/json"
	"fmt"
)

// Comparator represents the comparison operator used in rule conditions.
type Comparator string

const (
	ComparatorEquals      Comparator = "EQ"
	ComparatorNotEquals   Comparator = "NOT_EQ"
	ComparatorOneOf       Comparator = "ONE_OF"
	ComparatorNotOneOf    Comparator = "NOT_ONE_OF"
	ComparatorContains    Comparator = "CONTAINS"
	ComparatorGreaterThan Comparator = "GT"
	ComparatorLessThan    Comparator = "LT"
)

// Reason explains why an evaluation produced its value.
type Reason string

const (
	ReasonFallthrough Reason = "FALLTHROUGH"
	ReasonPaused      Reason = "PAUSED"
	ReasonRuleMatch   Reason = "RULE_MATCH"
	ReasonTargetMatch Reason = "TARGET_MATCH"
	ReasonError       Reason = "ERROR"
	ReasonOverride    Reason = "OVERRIDE"
	ReasonDecide      Reason = "DECIDE"
)

// ConditionKind distinguishes attribute conditions from segment references.
type ConditionKind string

const (
	ConditionKindAttribute ConditionKind = "attribute"
	ConditionKindSegment   ConditionKind = "segment"
)

// segmentPathTag is the wire marker in a condition's path position that
// turns the condition into a segment reference.
const segmentPathTag = "segment"

// Condition is one predicate inside a rule. On the wire it is a triple
// [path, comparator, operand] where path is either an attribute path
// (["user","id"]) or the literal string "segment", in which case the
// operand names the segment keys to test membership against.
type Condition struct {
	Kind        ConditionKind
	Path        []string
	Comparator  Comparator
	Operand     any
	SegmentKeys []string
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition must be a [path, comparator, operand] triple: %w", err)
	}

	if err := json.Unmarshal(raw[1], &c.Comparator); err != nil {
		return fmt.Errorf("condition comparator: %w", err)
	}

	var tag string
	if err := json.Unmarshal(raw[0], &tag); err == nil {
		if tag != segmentPathTag {
			return fmt.Errorf("unknown condition tag %q", tag)
		}
		c.Kind = ConditionKindSegment
		if err := json.Unmarshal(raw[2], &c.SegmentKeys); err != nil {
			return fmt.Errorf("segment condition operand must be a list of segment keys: %w", err)
		}
		return nil
	}

	c.Kind = ConditionKindAttribute
	if err := json.Unmarshal(raw[0], &c.Path); err != nil {
		return fmt.Errorf("condition path: %w", err)
	}
	if err := json.Unmarshal(raw[2], &c.Operand); err != nil {
		return fmt.Errorf("condition operand: %w", err)
	}
	return nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Kind == ConditionKindSegment {
		return json.Marshal([]any{segmentPathTag, c.Comparator, c.SegmentKeys})
	}
	return json.Marshal([]any{c.Path, c.Comparator, c.Operand})
}

// Split is a deterministic percentage branch. The value at Base is hashed
// to a uniform integer in [0, 100000); values below PassPromille take the
// pass branch.
type Split struct {
	Base         []string `json:"base"`
	PassPromille int      `json:"passPromille"`
}

// Outcome resolves to either a literal variant index or a split. On the
// wire it is a bare integer or a {base, passPromille} object.
type Outcome struct {
	Variant int
	Split   *Split
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		o.Variant = n
		o.Split = nil
		return nil
	}
	var s Split
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("outcome must be a variant index or a split: %w", err)
	}
	o.Split = &s
	return nil
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Split != nil {
		return json.Marshal(o.Split)
	}
	return json.Marshal(o.Variant)
}

// RuleKind separates authored rules from rules generated out of explicit
// per-entity targeting lists; the latter report TARGET_MATCH.
type RuleKind string

const (
	RuleKindRule   RuleKind = "rule"
	RuleKindTarget RuleKind = "target"
)

// Rule is an ordered condition set (AND) plus an outcome.
type Rule struct {
	Kind       RuleKind    `json:"kind,omitempty"`
	Conditions []Condition `json:"conditions"`
	Outcome    Outcome     `json:"outcome"`
}

// SegmentRule is a rule inside a segment definition; matching all of its
// conditions passes the segment.
type SegmentRule struct {
	Conditions []Condition `json:"conditions"`
}

// SegmentDefinition is a named, reusable membership test.
// Include and Exclude map attribute paths (dot-joined) to literal value
// sets; an Include match wins outright, an Exclude match (when not also
// included) fails the segment, otherwise Rules decide. Empty rules and no
// include/exclude means the segment never matches.
type SegmentDefinition struct {
	Include map[string][]any `json:"include,omitempty"`
	Exclude map[string][]any `json:"exclude,omitempty"`
	Rules   []SegmentRule    `json:"rules,omitempty"`
}

// EnvironmentConfig is either a paused flag (bare integer: always resolve
// variants[Paused]) or an ordered rule list with a fallthrough outcome.
type EnvironmentConfig struct {
	Paused      *int
	Rules       []Rule
	Fallthrough Outcome
}

type envConfigWire struct {
	Rules       []Rule  `json:"rules"`
	Fallthrough Outcome `json:"fallthrough"`
}

func (e *EnvironmentConfig) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		e.Paused = &n
		e.Rules = nil
		e.Fallthrough = Outcome{}
		return nil
	}
	var w envConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("environment config must be a variant index or {rules, fallthrough}: %w", err)
	}
	e.Paused = nil
	e.Rules = w.Rules
	e.Fallthrough = w.Fallthrough
	return nil
}

func (e EnvironmentConfig) MarshalJSON() ([]byte, error) {
	if e.Paused != nil {
		return json.Marshal(*e.Paused)
	}
	return json.Marshal(envConfigWire{Rules: e.Rules, Fallthrough: e.Fallthrough})
}

// FlagDefinition holds one flag's variants and per-environment rules.
// Seed salts the split hash so flags sharing a base attribute split
// independently.
type FlagDefinition struct {
	Variants     []any                        `json:"variants"`
	Environments map[string]EnvironmentConfig `json:"environments"`
	Seed         string                       `json:"seed,omitempty"`
}

// Datafile is the full exported configuration snapshot for a project.
// It is immutable once received; a new datafile fully replaces the old one.
type Datafile struct {
	ProjectID string                       `json:"projectId"`
	Flags     map[string]FlagDefinition    `json:"flags"`
	Segments  map[string]SegmentDefinition `json:"segments"`
}

// EvaluationResult is the outcome of evaluating one flag.
type EvaluationResult struct {
	Value        any    `json:"value,omitempty"`
	Reason       Reason `json:"reason"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
