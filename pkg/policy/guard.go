package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// guardEnv declares the facts a rule guard may reference.
var guardEnv = mustGuardEnv()

func mustGuardEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("text", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		panic(fmt.Sprintf("policy: build CEL env: %v", err))
	}
	return env
}

type guard struct {
	source string
	prg    cel.Program
}

func compileGuard(source string) (*guard, error) {
	ast, issues := guardEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard compilation failed: %w", issues.Err())
	}
	prg, err := guardEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard program construction failed: %w", err)
	}
	return &guard{source: source, prg: prg}, nil
}

// holds evaluates the guard. Evaluation errors and non-boolean results count
// as "does not hold" (fail closed).
func (g *guard) holds(f Facts) bool {
	out, _, err := g.prg.Eval(map[string]any{
		"tags":   f.Tags,
		"roles":  f.Roles,
		"text":   f.Text,
		"amount": f.Amount,
	})
	if err != nil {
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}
