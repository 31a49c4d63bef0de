package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"transient", Transient(base), ClassTransient},
		{"wrapped transient", fmt.Errorf("fetch: %w", Transient(base)), ClassTransient},
		{"dispatch", Dispatch(base), ClassDispatch},
		{"configuration", Configuration(base), ClassConfiguration},
		{"configurationf", Configurationf("missing app id"), ClassConfiguration},
		{"malformed", Malformed("record %s has no sender", "abc"), ClassMalformed},
		{"canceled", context.Canceled, ClassCanceled},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTransient},
		{"unclassified", base, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedError_SentinelsAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("window [1,2]: %w", Configuration(base))

	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, "window [1,2]: boom", err.Error())

	assert.True(t, IsConfiguration(err))
	assert.False(t, IsTransient(err))
	assert.True(t, IsTransient(Dispatch(base)))
	assert.True(t, IsMalformed(Malformed("x")))
	assert.True(t, errors.Is(Malformed("x"), ErrMalformed))
	assert.True(t, errors.Is(Dispatch(base), ErrDispatch))
	assert.Nil(t, Transient(nil))
}
