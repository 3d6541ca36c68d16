package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/v1/rego"
)

// RegoQuery is the document a Rego plugin defines. It evaluates to an
// object with the Response fields, or is undefined for nothing to report.
const RegoQuery = "data.rasp.verdict"

type RegoLoader struct{}

func NewRegoLoader() *RegoLoader {
	return &RegoLoader{}
}

func (l *RegoLoader) Kind() Kind { return KindRego }

func (l *RegoLoader) Matches(filename string) bool {
	return hasExt(filename, ".rego")
}

func (l *RegoLoader) LoadFile(path string) (Evaluator, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return NewRegoEvaluator(policyName(filepath.Base(path)), string(src))
}

// RegoEvaluator holds a query prepared once at load time.
type RegoEvaluator struct {
	name  string
	query rego.PreparedEvalQuery
}

func NewRegoEvaluator(name, module string) (*RegoEvaluator, error) {
	query, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module(name+".rego", module),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &RegoEvaluator{name: name, query: query}, nil
}

func (e *RegoEvaluator) Evaluate(ctx context.Context, req Request) (Response, error) {
	input, err := toInput(req)
	if err != nil {
		return Response{}, err
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Response{}, fmt.Errorf("eval rego: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Response{Name: e.name}, nil
	}

	raw, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return parseResponse(e.name, raw)
}

func (e *RegoEvaluator) Close() error {
	return nil
}

// toInput round-trips req through JSON so the evaluator sees plain maps.
func toInput(req Request) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return input, nil
}
