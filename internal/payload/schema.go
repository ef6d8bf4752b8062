package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"taskbeat/internal/services"
)

// Schema is a compiled CUE constraint a payload must satisfy.
type Schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	value  cue.Value
	source string
}

// CompileSchema compiles CUE source such as `{name: string, count?: int & >0}`.
func CompileSchema(source string) (*Schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(source, cue.Filename("payload-schema"))
	if err := value.Err(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "payload", "compile schema", "", err)
	}
	return &Schema{ctx: ctx, value: value, source: source}, nil
}

// MustCompileSchema is CompileSchema for package-level task definitions.
func MustCompileSchema(source string) *Schema {
	schema, err := CompileSchema(source)
	if err != nil {
		panic(err)
	}
	return schema
}

// Source returns the CUE text the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Validate unifies doc with the schema. Violations come back as a
// *ValidationError listing one Issue per problem.
func (s *Schema) Validate(doc any) error {
	if s == nil {
		return nil
	}
	// JSON text keeps integers as CUE ints; encoding Go float64 values
	// directly would turn them into floats.
	data, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Issues: []Issue{newIssue(nil, fmt.Sprintf("payload is not JSON encodable: %v", err))}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value := s.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := value.Err(); err != nil {
		return &ValidationError{Issues: issuesFrom(err)}
	}
	unified := s.value.Unify(value)
	if err := unified.Validate(cue.Concrete(true), cue.All()); err != nil {
		return &ValidationError{Issues: issuesFrom(err)}
	}
	return nil
}

func issuesFrom(err error) []Issue {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []Issue{newIssue(nil, err.Error())}
	}
	issues := make([]Issue, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		issues = append(issues, newIssue(e.Path(), fmt.Sprintf(format, args...)))
	}
	return issues
}

// Issue is one payload violation in OperationOutcome terms.
type Issue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Expression  []string `json:"expression"`
	Diagnostics string   `json:"diagnostics"`
}

func newIssue(path []string, diagnostics string) Issue {
	return Issue{
		Severity:    "fatal",
		Code:        "invalid",
		Expression:  []string{strings.Join(path, ".")},
		Diagnostics: diagnostics,
	}
}

// ValidationError reports a payload rejected by its task schema.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if path := issue.Expression[0]; path != "" {
			parts = append(parts, path+": "+issue.Diagnostics)
			continue
		}
		parts = append(parts, issue.Diagnostics)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match services.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == services.ErrValidation
}

// OperationOutcome renders the issues as an OperationOutcome resource.
func (e *ValidationError) OperationOutcome() map[string]any {
	issues := make([]any, 0, len(e.Issues))
	for _, issue := range e.Issues {
		expression := make([]any, 0, len(issue.Expression))
		for _, path := range issue.Expression {
			expression = append(expression, path)
		}
		issues = append(issues, map[string]any{
			"severity":    issue.Severity,
			"code":        issue.Code,
			"expression":  expression,
			"diagnostics": issue.Diagnostics,
		})
	}
	return map[string]any{
		"resourceType": "OperationOutcome",
		"text":         map[string]any{"status": "generated", "div": "Invalid payload"},
		"issue":        issues,
	}
}
