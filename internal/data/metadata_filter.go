package data

import (
	"encoding/json"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// metadataMatcher evaluates a JMESPath expression against job metadata.
// Bulk cancels use it to narrow candidates, e.g. `trigger == 'scheduled'`.
type metadataMatcher struct {
	expr string
}

// newMetadataMatcher compiles the expression up front so a bad filter fails
// the whole call instead of silently matching nothing. An empty expression
// returns a nil matcher, which matches everything.
func newMetadataMatcher(expr string) (*metadataMatcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil //nolint:nilnil // nil matcher means "no filter"
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile metadata filter %q: %w", expr, err)
	}
	return &metadataMatcher{expr: expr}, nil
}

// Match reports whether the record's metadata satisfies the filter.
// A nil matcher matches everything; undecodable metadata matches nothing.
func (m *metadataMatcher) Match(raw json.RawMessage) bool {
	if m == nil {
		return true
	}

	var data any
	if len(raw) == 0 {
		data = map[string]any{}
	} else if err := json.Unmarshal(raw, &data); err != nil {
		return false
	}

	result, err := jmespath.Search(m.expr, data)
	if err != nil {
		return false
	}
	return isTruthy(result)
}

// isTruthy applies JMESPath truthiness: null, false, empty strings, and
// empty collections are false.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
