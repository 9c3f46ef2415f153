package evaluation

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/driftflag/go-client/pkg/model"
)

// splitBuckets is the resolution of percentage splits: passPromille is a
// value in [0, splitBuckets].
const splitBuckets = 100000

// Params holds the inputs for one flag evaluation.
type Params struct {
	Definition  *model.FlagDefinition
	FlagKey     string
	Environment string
	Entities    map[string]any
	Segments    map[string]model.SegmentDefinition
}

// Evaluator defines the interface for evaluating flag definitions.
type Evaluator interface {
	Evaluate(params Params) model.EvaluationResult
}

// RuleBasedEvaluator implements deterministic rule-based evaluation.
// It is stateless and safe for concurrent use.
type RuleBasedEvaluator struct{}

// NewRuleBasedEvaluator creates a new RuleBasedEvaluator.
func NewRuleBasedEvaluator() *RuleBasedEvaluator {
	return &RuleBasedEvaluator{}
}

func (e *RuleBasedEvaluator) Evaluate(params Params) model.EvaluationResult {
	def := params.Definition
	if def == nil {
		return errorResult("flag definition is nil")
	}

	envConfig, ok := def.Environments[params.Environment]
	if !ok {
		return errorResult(fmt.Sprintf("Could not find envConfig for %s", params.Environment))
	}

	if envConfig.Paused != nil {
		value, ok := variantAt(def, *envConfig.Paused)
		if !ok {
			return errorResult(fmt.Sprintf("paused variant index %d out of range", *envConfig.Paused))
		}
		return model.EvaluationResult{Value: value, Reason: model.ReasonPaused}
	}

	for _, rule := range envConfig.Rules {
		if !e.matchesRule(rule.Conditions, params) {
			continue
		}
		reason := model.ReasonRuleMatch
		if rule.Kind == model.RuleKindTarget {
			reason = model.ReasonTargetMatch
		}
		return e.resolveOutcome(rule.Outcome, reason, params)
	}

	return e.resolveOutcome(envConfig.Fallthrough, model.ReasonFallthrough, params)
}

// resolveOutcome turns an outcome into a concrete variant value. Splits
// keep the caller's reason regardless of which branch they take.
func (e *RuleBasedEvaluator) resolveOutcome(outcome model.Outcome, reason model.Reason, params Params) model.EvaluationResult {
	index := outcome.Variant
	if outcome.Split != nil {
		if e.splitPasses(outcome.Split, params) {
			index = 1
		} else {
			index = 0
		}
	}
	value, ok := variantAt(params.Definition, index)
	if !ok {
		return errorResult(fmt.Sprintf("variant index %d out of range", index))
	}
	return model.EvaluationResult{Value: value, Reason: reason}
}

// splitPasses hashes the value at the split's base path to a stable bucket
// in [0, splitBuckets). Splits are salted with the flag's seed (falling
// back to the flag key) so flags sharing a base attribute split
// independently. A missing base value always fails the split.
func (e *RuleBasedEvaluator) splitPasses(split *model.Split, params Params) bool {
	base, ok := resolvePath(split.Base, params.Entities)
	if !ok {
		return false
	}

	salt := params.Definition.Seed
	if salt == "" {
		salt = params.FlagKey
	}

	h := fnv.New32a()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(stringify(base)))
	bucket := int(h.Sum32() % splitBuckets)

	return bucket < split.PassPromille
}

func (e *RuleBasedEvaluator) matchesRule(conditions []model.Condition, params Params) bool {
	for _, condition := range conditions {
		if !e.matchesCondition(condition, params) {
			return false
		}
	}
	return true
}

func (e *RuleBasedEvaluator) matchesCondition(condition model.Condition, params Params) bool {
	if condition.Kind == model.ConditionKindSegment {
		return e.matchesAnySegment(condition.SegmentKeys, params)
	}

	val, ok := resolvePath(condition.Path, params.Entities)
	if !ok {
		// Missing attribute fails the condition, negated comparators included.
		return false
	}

	switch condition.Comparator {
	case model.ComparatorEquals:
		return valuesEqual(val, condition.Operand)
	case model.ComparatorNotEquals:
		return !valuesEqual(val, condition.Operand)
	case model.ComparatorOneOf:
		return valueIn(val, condition.Operand)
	case model.ComparatorNotOneOf:
		return !valueIn(val, condition.Operand)
	case model.ComparatorContains:
		s, ok := val.(string)
		if !ok {
			return false
		}
		sub, ok := condition.Operand.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, sub)
	case model.ComparatorGreaterThan:
		return compare(val, condition.Operand) > 0
	case model.ComparatorLessThan:
		return compare(val, condition.Operand) < 0
	default:
		return false
	}
}

// matchesAnySegment reports whether the entities belong to at least one of
// the named segments.
func (e *RuleBasedEvaluator) matchesAnySegment(keys []string, params Params) bool {
	for _, key := range keys {
		segment, ok := params.Segments[key]
		if !ok {
			continue
		}
		if e.matchesSegment(segment, params) {
			return true
		}
	}
	return false
}

// matchesSegment applies segment precedence: an explicit include match wins
// outright, an exclude match fails, then segment rules decide in order. A
// segment carrying an include key with no entries matches unconditionally;
// otherwise an empty segment never matches.
func (e *RuleBasedEvaluator) matchesSegment(segment model.SegmentDefinition, params Params) bool {
	if matchesValueSet(segment.Include, params.Entities) {
		return true
	}
	if matchesValueSet(segment.Exclude, params.Entities) {
		return false
	}
	for _, rule := range segment.Rules {
		if e.matchesRule(rule.Conditions, params) {
			return true
		}
	}
	return segment.Include != nil && len(segment.Include) == 0
}

// matchesValueSet reports whether any dot-joined attribute path in the set
// resolves to one of its listed values.
func matchesValueSet(set map[string][]any, entities map[string]any) bool {
	for path, values := range set {
		val, ok := resolvePath(strings.Split(path, "."), entities)
		if !ok {
			continue
		}
		for _, candidate := range values {
			if valuesEqual(val, candidate) {
				return true
			}
		}
	}
	return false
}

// resolvePath walks a nested attribute bag. An unknown path reports
// ok=false rather than an error so comparators fail cleanly.
func resolvePath(path []string, entities map[string]any) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var current any = entities
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valueIn(val any, operand any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, candidate := range list {
		if valuesEqual(val, candidate) {
			return true
		}
	}
	return false
}

// valuesEqual compares two JSON-shaped values, normalising numerics so an
// int written by a caller equals the float64 json.Unmarshal produces.
func valuesEqual(left, right any) bool {
	if lf, lok := asFloat64(left); lok {
		rf, rok := asFloat64(right)
		return rok && lf == rf
	}
	return left == right
}

func compare(left, right any) int {
	lf, lok := asFloat64(left)
	rf, rok := asFloat64(right)
	if lok && rok {
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return strings.Compare(ls, rs)
	}
	return 0
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func variantAt(def *model.FlagDefinition, index int) (any, bool) {
	if index < 0 || index >= len(def.Variants) {
		return nil, false
	}
	return def.Variants[index], true
}

func errorResult(message string) model.EvaluationResult {
	return model.EvaluationResult{Reason: model.ReasonError, ErrorMessage: message}
}
