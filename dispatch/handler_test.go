package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcHandler adapts a function to JobHandler
type funcHandler struct {
	name string
	fn   func(ctx context.Context, job *Job) error
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Execute(ctx context.Context, job *Job) error {
	return h.fn(ctx, job)
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	assert.Empty(t, r.Names())

	var ran string
	r.Register(funcHandler{name: "test.b", fn: func(context.Context, *Job) error { ran = "b"; return nil }})
	r.Register(funcHandler{name: "test.a", fn: func(context.Context, *Job) error { ran = "a"; return nil }})

	assert.True(t, r.Has("test.a"))
	assert.False(t, r.Has("test.c"))
	assert.Nil(t, r.Get("test.c"))
	assert.Equal(t, []string{"test.a", "test.b"}, r.Names())

	require.NoError(t, r.Execute(context.Background(), &Job{HandlerName: "test.b"}))
	assert.Equal(t, "b", ran)

	assert.Panics(t, func() {
		r.Register(funcHandler{name: "test.a"})
	})
}

func TestHandlerRegistryExecuteErrors(t *testing.T) {
	r := NewHandlerRegistry()

	err := r.Execute(context.Background(), &Job{})
	assert.ErrorContains(t, err, "missing handler_name")

	err = r.Execute(context.Background(), &Job{HandlerName: "test.unknown"})
	assert.ErrorContains(t, err, "no handler registered")
}
