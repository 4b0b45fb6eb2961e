package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Engine evaluates admission policies against client records. It implements
// engine.Admitter.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := e.compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("built-in policies loaded")
	return e, nil
}

// Admit implements engine.Admitter. A blocking violation yields a
// ValidationError listing every message.
func (e *Engine) Admit(ctx context.Context, rec *engine.ClientRecord) error {
	decision, err := e.Evaluate(ctx, rec)
	if err != nil {
		return engine.NewTransientError("policy evaluation failed", err).WithResource(rec.ID)
	}

	for _, w := range decision.Warnings {
		e.logger.Warn().Str("client_id", rec.ID).Str("policy", w.Policy).Msg(w.Message)
	}
	if decision.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(decision.Violations))
	for _, v := range decision.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return engine.NewValidationError("denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied).WithResource(rec.ID)
}

// Evaluate runs every enabled policy against rec.
func (e *Engine) Evaluate(ctx context.Context, rec *engine.ClientRecord) (*Decision, error) {
	if rec == nil {
		return nil, fmt.Errorf("client record is required")
	}
	start := time.Now()

	e.mu.RLock()
	policies := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			policies = append(policies, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(policies, func(i, j int) bool { return policies[i].policy.Name < policies[j].policy.Name })

	input := &Input{
		Client:  rec,
		Context: InputContext{Timestamp: e.now(), Operation: "provision"},
	}

	decision := &Decision{Allowed: true}
	for _, cp := range policies {
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Str("client_id", rec.ID).
				Msg("policy evaluation failed")
			decision.Warnings = append(decision.Warnings, Violation{
				Policy:   cp.policy.Name,
				ClientID: rec.ID,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Str("client_id", rec.ID).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("admission evaluated")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// newViolation builds a Violation from one member of a deny set.
func newViolation(policy *Policy, result interface{}, input *Input) Violation {
	v := Violation{
		Policy:   policy.Name,
		ClientID: input.Client.ID,
		Severity: policy.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compile parses the module and prepares the query for its deny set.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: policy, query: prepared, compiled: time.Now()}, nil
}

// LoadPolicies loads policy files and replaces every non-built-in policy.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies compiles policies and swaps them in atomically. Built-in
// policies are kept. Nothing changes if any policy fails to compile.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, clash := compiled[name]; clash {
				return fmt.Errorf("policy %s shadows a built-in policy", name)
			}
			compiled[name] = cp
		}
	}
	e.policies = compiled

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// Watch reloads the policies at paths whenever they change, until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.SetPolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

var _ engine.Admitter = (*Engine)(nil)
