// Package policy evaluates operator-supplied admission rules against events
// that have already passed signature verification.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/karipov/nostrust/pkg/event"
)

// Admission is a compiled CEL expression over the variables `event` (a map
// with id, pubkey, created_at, kind, tags, content) and `now` (unix seconds).
// The expression must evaluate to a bool; true admits the event.
//
//	event.kind != 4 && size(event.content) <= 4096
type Admission struct {
	expr string
	prg  cel.Program
	now  func() time.Time
}

// NewAdmission compiles expr. An empty expression is rejected; callers that
// want no policy should not construct one.
func NewAdmission(expr string) (*Admission, error) {
	if expr == "" {
		return nil, fmt.Errorf("admission policy is empty")
	}

	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("admission policy must evaluate to bool, got %s", out)
	}

	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	return &Admission{expr: expr, prg: prg, now: time.Now}, nil
}

// Expr returns the source expression.
func (a *Admission) Expr() string { return a.expr }

// Admit evaluates the policy for e. Evaluation errors are returned and must be
// treated as a rejection.
func (a *Admission) Admit(ctx context.Context, e event.Event) (bool, error) {
	out, _, err := a.prg.ContextEval(ctx, map[string]any{
		"event": eventInput(e),
		"now":   a.now().Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func eventInput(e event.Event) map[string]any {
	tags := make([]any, len(e.Tags))
	for i, t := range e.Tags {
		tag := make([]any, len(t))
		for j, v := range t {
			tag[j] = v
		}
		tags[i] = tag
	}
	return map[string]any{
		"id":         e.ID,
		"pubkey":     e.PubKey,
		"created_at": e.CreatedAt,
		"kind":       int64(e.Kind),
		"tags":       tags,
		"content":    e.Content,
	}
}
