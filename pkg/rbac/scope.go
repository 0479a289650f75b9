package rbac

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultPatientScopeExpr is the shipped self-scope rule: a patient may
// touch only records whose owning patient ID equals their own user ID.
const DefaultPatientScopeExpr = `resource_patient_id != "" && resource_patient_id == principal_id`

// ScopeConstraint is a compiled CEL predicate over the caller and the
// record owner. Kept as data so deployments can tighten or relax the
// rule without a code change.
type ScopeConstraint struct {
	prg cel.Program
}

// NewScopeConstraint compiles the expression. The environment exposes
// principal_id and resource_patient_id as strings; the expression must
// evaluate to a bool.
func NewScopeConstraint(expr string) (*ScopeConstraint, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal_id", cel.StringType),
		cel.Variable("resource_patient_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("scope env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("scope compile: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("scope expression must return bool, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("scope program: %w", err)
	}
	return &ScopeConstraint{prg: prg}, nil
}

// Allow evaluates the constraint.
func (s *ScopeConstraint) Allow(principalID, resourcePatientID string) (bool, error) {
	out, _, err := s.prg.Eval(map[string]any{
		"principal_id":        principalID,
		"resource_patient_id": resourcePatientID,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("scope expression returned %T", out.Value())
	}
	return b, nil
}
