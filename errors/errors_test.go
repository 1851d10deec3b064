package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	original := New("metastore unreachable")
	wrapped := Wrapf(original, "resolve %s.%s", "sales_db", "orders")

	assert.Equal(t, "resolve sales_db.orders: metastore unreachable", wrapped.Error())
	assert.True(t, Is(wrapped, original))
}

type partitionError struct {
	spec string
}

func (e *partitionError) Error() string {
	return "bad partition " + e.spec
}

func TestAsThroughWrap(t *testing.T) {
	wrapped := Wrap(&partitionError{spec: "dt=2024-01-01"}, "add partition")

	var target *partitionError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "dt=2024-01-01", target.spec)
}

func TestHintsAndDetailsSurviveWrapping(t *testing.T) {
	err := New("table not registered")
	err = WithHint(err, "run `tablescan catalog seed` first")
	err = WithDetail(err, "namespace: sales_db")
	err = Wrap(err, "plan failed")

	assert.Equal(t, []string{"run `tablescan catalog seed` first"}, GetAllHints(err))
	assert.Equal(t, []string{"namespace: sales_db"}, GetAllDetails(err))
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WithDetail(nil, "detail"))
}

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		invalid     bool
		conflicting bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: New("boom")},
		{name: "not found", err: NewNotFoundError("table %s.%s", "default", "events"), notFound: true},
		{name: "wrapped not found", err: Wrap(NewNotFoundError("namespace %s", "x"), "lookup"), notFound: true},
		{name: "invalid request", err: NewInvalidRequestError("table name is required"), invalid: true},
		{name: "conflict", err: NewConflictError("table %s exists", "orders"), conflicting: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFoundError(tt.err))
			assert.Equal(t, tt.invalid, IsInvalidRequestError(tt.err))
			assert.Equal(t, tt.conflicting, IsConflictError(tt.err))
		})
	}
}

func TestSentinelMessage(t *testing.T) {
	err := NewNotFoundError("table %s.%s", "default", "events")
	assert.Contains(t, err.Error(), "table default.events")
	assert.Contains(t, err.Error(), "not found")
}

func ExampleWrap() {
	baseErr := New("connection refused")
	err := Wrap(baseErr, "failed to reach metadata service")
	fmt.Println(err)
	// Output: failed to reach metadata service: connection refused
}
