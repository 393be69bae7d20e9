// Package mosaicerr defines the error kinds surfaced by the mosaic pipeline.
//
// Every error carries the pipeline stage it was raised in and the parameters
// that led to it, so callers can tell the user what to change. Kinds are
// matched with errors.Is against the sentinel values:
//
//	if errors.Is(err, mosaicerr.ErrConfig) {
//	    // fix the request and retry
//	}
package mosaicerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindConfig is an invalid or missing request parameter.
	KindConfig Kind = iota + 1
	// KindCatalog is a malformed or missing tile catalog.
	KindCatalog
	// KindNetwork is a failed sprite sheet fetch.
	KindNetwork
	// KindRender is an unexpected failure inside a rendering task.
	KindRender
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindCatalog:
		return "catalog"
	case KindNetwork:
		return "network"
	case KindRender:
		return "render"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is.
var (
	ErrConfig  = &Error{Kind: KindConfig}
	ErrCatalog = &Error{Kind: KindCatalog}
	ErrNetwork = &Error{Kind: KindNetwork}
	ErrRender  = &Error{Kind: KindRender}
)

// Error is a classified pipeline error.
type Error struct {
	Kind   Kind
	Stage  string
	Params map[string]any
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Stage != "" {
		fmt.Fprintf(&b, " in %s", e.Stage)
	}
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Params[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A sentinel with no
// stage matches any stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Stage == "" || t.Stage == e.Stage
}

func newError(kind Kind, stage string, params map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Params: params, Err: fmt.Errorf(format, args...)}
}

// Config returns a KindConfig error.
func Config(stage string, params map[string]any, format string, args ...any) *Error {
	return newError(KindConfig, stage, params, format, args...)
}

// Catalog returns a KindCatalog error.
func Catalog(stage string, params map[string]any, format string, args ...any) *Error {
	return newError(KindCatalog, stage, params, format, args...)
}

// Network returns a KindNetwork error.
func Network(stage string, params map[string]any, format string, args ...any) *Error {
	return newError(KindNetwork, stage, params, format, args...)
}

// Render returns a KindRender error.
func Render(stage string, params map[string]any, format string, args ...any) *Error {
	return newError(KindRender, stage, params, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
