package chain

import (
	"context"
	"errors"
	"fmt"
)

// Class is the failure category a watcher loop reacts to.
type Class string

const (
	ClassTransient     Class = "transient"
	ClassMalformed     Class = "malformed"
	ClassConfiguration Class = "configuration"
	ClassDispatch      Class = "dispatch"
	ClassCanceled      Class = "canceled"
)

// Sentinel errors matched with errors.Is against classified errors.
var (
	ErrTransient     = errors.New("transient failure")
	ErrMalformed     = errors.New("malformed record")
	ErrConfiguration = errors.New("configuration error")
	ErrDispatch      = errors.New("dispatch failed")
)

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func (e *classifiedError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.class == ClassTransient
	case ErrMalformed:
		return e.class == ClassMalformed
	case ErrConfiguration:
		return e.class == ClassConfiguration
	case ErrDispatch:
		return e.class == ClassDispatch
	}
	return false
}

func classify(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: class}
}

// Transient marks err as retryable: the same window is fetched again.
func Transient(err error) error { return classify(err, ClassTransient) }

// Dispatch marks err as a rejected forward: the window is retried from fetch.
func Dispatch(err error) error { return classify(err, ClassDispatch) }

// Configuration marks err as fatal for the chain loop that produced it.
func Configuration(err error) error { return classify(err, ClassConfiguration) }

// Malformed builds an error for a single record that cannot be extracted.
func Malformed(format string, args ...any) error {
	return classify(fmt.Errorf(format, args...), ClassMalformed)
}

// Configurationf builds a configuration error from a format string.
func Configurationf(format string, args ...any) error {
	return classify(fmt.Errorf(format, args...), ClassConfiguration)
}

// IsTransient reports whether the loop should back off and retry.
func IsTransient(err error) bool {
	c := Classify(err)
	return c == ClassTransient || c == ClassDispatch
}

// IsConfiguration reports whether err must stop the chain loop.
func IsConfiguration(err error) bool {
	return Classify(err) == ClassConfiguration
}

// IsMalformed reports whether err concerns a single bad record.
func IsMalformed(err error) bool {
	return Classify(err) == ClassMalformed
}

// Classify returns the class of err. Errors that carry no explicit class
// are treated as transient so the cursor never advances past them.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return marked.class
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	return ClassTransient
}
