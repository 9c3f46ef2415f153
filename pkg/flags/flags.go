// Package flags implements the request-scoped decision core: per inbound
// request it resolves overrides, deduplicates entity identification, caches
// flag decisions, and recovers decide failures to default values.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"

	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/override"
	"github.com/driftflag/go-client/pkg/requestcache"
)

// RequestContext exposes the read-only request surface to identify and
// decide functions, plus the resolved entities once identification ran.
type RequestContext struct {
	Headers  http.Header
	Cookies  []*http.Cookie
	Entities map[string]any
}

// Cookie returns the named cookie's value.
func (r *RequestContext) Cookie(name string) (string, bool) {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// IdentifyFunc resolves the entities describing who is being evaluated.
type IdentifyFunc func(ctx context.Context, rc *RequestContext) (map[string]any, error)

// DecideFunc resolves a flag's value for the given request. Returning nil
// means "no value"; the flag's default applies.
type DecideFunc func(ctx context.Context, rc *RequestContext) (any, error)

// Flag declares one feature flag's evaluation behaviour. Declare a Flag
// once at startup and reuse it; its pointer identity keys the
// request-scoped decision cache.
type Flag struct {
	Key string
	// Decide is required.
	Decide DecideFunc
	// Identify resolves entities per request. Leave nil and set Entities
	// for flags with static targeting input; setting both is rejected.
	Identify IdentifyFunc
	Entities map[string]any
	// DefaultValue substitutes for a nil decision and recovers decide
	// failures. A nil DefaultValue means no default is configured and
	// decide errors propagate.
	DefaultValue any
}

// ReportMeta accompanies a reported value.
type ReportMeta struct {
	Reason       model.Reason
	ErrorMessage string
}

// Reporter receives resolved flag values for observability. Calls are
// fire-and-forget; a panicking reporter never reaches the caller.
type Reporter interface {
	Report(flagKey string, value any, meta ReportMeta)
}

// Params holds the inputs for one request-scoped flag evaluation.
type Params struct {
	Flag    *Flag
	Request *RequestContext
	// GetPrecomputed, if set and returning ok, short-circuits evaluation
	// entirely; precomputation already baked in the applicable value.
	GetPrecomputed func() (any, bool)
	// OverrideSecret enables encrypted cookie overrides when non-empty.
	OverrideSecret []byte
	// OverrideCookie names the override cookie; defaults to
	// override.CookieName.
	OverrideCookie string
	Reporter       Reporter
	SuppressReport bool
}

// overrideCacheKey memoizes override decryption per request.
type overrideCacheKey struct{ cookie string }

// identifyCacheKey memoizes identification per request per identify
// function, so every flag sharing one identify function reuses its result.
type identifyCacheKey struct{ fn uintptr }

// decisionCacheKey guarantees at most one decide invocation per
// (request, flag, entities) tuple.
type decisionCacheKey struct {
	flag     *Flag
	entities string
}

// Evaluate resolves one flag for one request. The context must carry a
// request cache (requestcache.NewContext) for identify and decision
// deduplication to apply; without one every call stands alone.
func Evaluate(ctx context.Context, p Params) (any, error) {
	flag := p.Flag
	if flag == nil || flag.Key == "" {
		return nil, errors.New("flags: flag with a key is required")
	}
	if flag.Decide == nil {
		return nil, fmt.Errorf("flags: flag %q has no decide function", flag.Key)
	}
	if flag.Identify != nil && flag.Entities != nil {
		return nil, fmt.Errorf("flags: flag %q sets both Identify and Entities", flag.Key)
	}
	rc := p.Request
	if rc == nil {
		rc = &RequestContext{}
	}

	if p.GetPrecomputed != nil {
		if value, ok := p.GetPrecomputed(); ok {
			return value, nil
		}
	}

	if value, ok := evaluateOverride(ctx, p, rc); ok {
		report(p, value, ReportMeta{Reason: model.ReasonOverride})
		return value, nil
	}

	entities, err := identifyEntities(ctx, flag, rc)
	if err != nil {
		return recoverDefault(p, fmt.Errorf("flags: identify for %q: %w", flag.Key, err))
	}

	value, err := decide(ctx, p, flag, rc, entities)
	if err != nil {
		return recoverDefault(p, fmt.Errorf("flags: decide for %q: %w", flag.Key, err))
	}
	if value == nil {
		value = flag.DefaultValue
	}

	report(p, value, ReportMeta{Reason: model.ReasonDecide})
	return value, nil
}

// evaluateOverride decrypts the request's override cookie (memoized per
// request) and looks up the flag key. Any decrypt failure is treated as
// "no override present".
func evaluateOverride(ctx context.Context, p Params, rc *RequestContext) (any, bool) {
	if len(p.OverrideSecret) == 0 {
		return nil, false
	}
	cookieName := p.OverrideCookie
	if cookieName == "" {
		cookieName = override.CookieName
	}
	ciphertext, ok := rc.Cookie(cookieName)
	if !ok || ciphertext == "" {
		return nil, false
	}

	decryptOnce := func() (any, error) {
		values, err := override.Decrypt(ciphertext, p.OverrideSecret)
		if err != nil {
			// Fail closed: a bad override never fails the request.
			log.Printf("flags: ignoring undecryptable override cookie: %v", err)
			return map[string]any(nil), nil
		}
		return values, nil
	}

	var values map[string]any
	if cache, ok := requestcache.FromContext(ctx); ok {
		v, _ := cache.Do(overrideCacheKey{cookie: cookieName}, decryptOnce)
		values = v.(map[string]any)
	} else {
		v, _ := decryptOnce()
		values = v.(map[string]any)
	}

	value, ok := values[p.Flag.Key]
	return value, ok
}

// identifyEntities resolves entities from the flag's static value or its
// identify function, deduplicated per request by function identity.
func identifyEntities(ctx context.Context, flag *Flag, rc *RequestContext) (map[string]any, error) {
	if flag.Identify == nil {
		return flag.Entities, nil
	}

	run := func() (any, error) {
		return flag.Identify(ctx, rc)
	}

	cache, ok := requestcache.FromContext(ctx)
	if !ok {
		v, err := run()
		if err != nil {
			return nil, err
		}
		return v.(map[string]any), nil
	}

	key := identifyCacheKey{fn: reflect.ValueOf(flag.Identify).Pointer()}
	v, err := cache.Do(key, run)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// decide invokes the flag's decide function at most once per
// (request, flag, entities) tuple; concurrent callers join the in-flight
// invocation.
func decide(ctx context.Context, p Params, flag *Flag, rc *RequestContext, entities map[string]any) (any, error) {
	scoped := &RequestContext{Headers: rc.Headers, Cookies: rc.Cookies, Entities: entities}

	run := func() (any, error) {
		return flag.Decide(ctx, scoped)
	}

	cache, ok := requestcache.FromContext(ctx)
	if !ok {
		return run()
	}

	key := decisionCacheKey{flag: flag, entities: entitiesKey(entities)}
	return cache.Do(key, run)
}

// recoverDefault substitutes the configured default after a failure,
// logging a warning; without a default the error propagates.
func recoverDefault(p Params, err error) (any, error) {
	if p.Flag.DefaultValue == nil {
		return nil, err
	}
	log.Printf("flags: falling back to default: %v", err)
	report(p, p.Flag.DefaultValue, ReportMeta{Reason: model.ReasonError, ErrorMessage: err.Error()})
	return p.Flag.DefaultValue, nil
}

// report delivers the resolved value to the reporting sink. It never
// blocks or fails the evaluation.
func report(p Params, value any, meta ReportMeta) {
	if p.Reporter == nil || p.SuppressReport {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("flags: reporter panicked for %q: %v", p.Flag.Key, r)
		}
	}()
	p.Reporter.Report(p.Flag.Key, value, meta)
}

// entitiesKey serializes entities to a stable cache key. encoding/json
// sorts map keys, so equal entity bags always produce equal keys.
func entitiesKey(entities map[string]any) string {
	if len(entities) == 0 {
		return ""
	}
	b, err := json.Marshal(entities)
	if err != nil {
		return fmt.Sprintf("%v", entities)
	}
	return string(b)
}
