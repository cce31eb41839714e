// Package access decides which entities and fields a caller may use, from
// the role lists of entity metadata and optional CEL conditions.
//
//go:generate mockgen -source access.go -destination ../../internal/mocks/mock_access.go -package mocks Evaluator
package access

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
)

// Anyone is the role every caller has.
const Anyone = "anyone"

// Operation is what the caller wants to do with an entity.
type Operation string

const (
	Find   Operation = "find"
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

var ErrInvalidCondition = errors.New("invalid access condition")

// Evaluator answers access questions for one caller's roles.
type Evaluator interface {
	// HasEntityAccess reports whether roles may perform op on entity.
	HasEntityAccess(entity *metadata.Entity, op Operation, roles []string) (bool, error)

	// ExcludedFields returns the generic paths, relative to entity, of the
	// fields roles may not use for op. Reference fields are not crossed.
	ExcludedFields(entity *metadata.Entity, op Operation, roles []string) ([]document.Path, error)
}

// RoleEvaluator is the default Evaluator. An empty role list places no
// restriction. Entity find access additionally requires the entity's
// FindCondition, a CEL expression over `roles` (list of strings) and
// `entity` (the entity name), to hold.
type RoleEvaluator struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

var _ Evaluator = (*RoleEvaluator)(nil)

// NewRoleEvaluator returns a RoleEvaluator.
func NewRoleEvaluator() (*RoleEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("entity", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct CEL env: %w", err)
	}
	return &RoleEvaluator{env: env}, nil
}

// MustNewRoleEvaluator is NewRoleEvaluator that panics on error.
func MustNewRoleEvaluator() *RoleEvaluator {
	e, err := NewRoleEvaluator()
	if err != nil {
		panic(err)
	}
	return e
}

func allowed(required, roles []string) bool {
	if len(required) == 0 || slices.Contains(required, Anyone) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(required, r) {
			return true
		}
	}
	return false
}

// HasEntityAccess see [Evaluator].HasEntityAccess.
func (e *RoleEvaluator) HasEntityAccess(entity *metadata.Entity, op Operation, roles []string) (bool, error) {
	var required []string
	switch op {
	case Find:
		required = entity.Access.Find
	case Insert:
		required = entity.Access.Insert
	case Update:
		required = entity.Access.Update
	case Delete:
		required = entity.Access.Delete
	default:
		return false, fmt.Errorf("unknown operation %q", op)
	}
	if !allowed(required, roles) {
		return false, nil
	}
	if op != Find || entity.Access.FindCondition == "" {
		return true, nil
	}
	return e.evaluate(entity.Access.FindCondition, map[string]any{
		"roles":  append([]string{}, roles...),
		"entity": entity.Name,
	})
}

func (e *RoleEvaluator) program(expression string) (cel.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(cel.Program), nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCondition, expression, issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("%w: %q: expected a bool expression, got %s", ErrInvalidCondition, expression, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCondition, expression, err)
	}
	e.programs.Store(expression, prg)
	return prg, nil
}

func (e *RoleEvaluator) evaluate(expression string, vars map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluating access condition %q: %w", expression, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("%w: %q did not return a bool", ErrInvalidCondition, expression)
	}
	return ok, nil
}

// ExcludedFields see [Evaluator].ExcludedFields.
func (e *RoleEvaluator) ExcludedFields(entity *metadata.Entity, op Operation, roles []string) ([]document.Path, error) {
	if op != Find && op != Update {
		return nil, nil
	}
	var out []document.Path
	var walk func(f *metadata.Field, at document.Path)
	walk = func(f *metadata.Field, at document.Path) {
		if f.Access != nil {
			required := f.Access.Find
			if op == Update {
				required = f.Access.Update
			}
			if !allowed(required, roles) {
				out = append(out, at)
				return
			}
		}
		switch f.Type {
		case metadata.TypeObject:
			for _, c := range f.Fields {
				walk(c, at.Append(c.Name))
			}
		case metadata.TypeArray:
			walk(f.Items, at.Append(document.Any))
		}
	}
	for _, f := range entity.Fields {
		walk(f, document.Path{f.Name})
	}
	return out, nil
}

// CompositeExcludedFields returns the excluded fields of every entity of
// root, as absolute paths in root documents.
func CompositeExcludedFields(ev Evaluator, root *metadata.CompositeEntity, op Operation, roles []string) ([]document.Path, error) {
	var out []document.Path
	for _, ce := range root.All() {
		paths, err := ev.ExcludedFields(ce.Entity, op, roles)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", ce.Entity.Key(), err)
		}
		for _, p := range paths {
			out = append(out, ce.Prefix().Concat(p))
		}
	}
	return out, nil
}

// Readable reports whether none of paths is at or below an excluded field.
// It returns the first offending path.
func Readable(excluded, paths []document.Path) (document.Path, bool) {
	for _, p := range paths {
		g := p.Generic()
		for _, ex := range excluded {
			if g.MatchesPatternPrefix(ex) {
				return p, false
			}
		}
	}
	return nil, true
}
