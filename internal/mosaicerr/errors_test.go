package mosaicerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsKind(t *testing.T) {
	err := Config("matching", map[string]any{"tileSize": 0}, "tile size must be >= 1")
	wrapped := fmt.Errorf("generate failed: %w", err)

	if !errors.Is(wrapped, ErrConfig) {
		t.Error("expected wrapped error to match ErrConfig")
	}
	if errors.Is(wrapped, ErrRender) {
		t.Error("config error should not match ErrRender")
	}
	if got := KindOf(wrapped); got != KindConfig {
		t.Errorf("KindOf: got %v, want %v", got, KindConfig)
	}
}

func TestError_StageSpecificMatch(t *testing.T) {
	err := Network("prefetch", nil, "HTTP 500")

	if !errors.Is(err, &Error{Kind: KindNetwork, Stage: "prefetch"}) {
		t.Error("expected stage match")
	}
	if errors.Is(err, &Error{Kind: KindNetwork, Stage: "export"}) {
		t.Error("expected stage mismatch")
	}
}

func TestError_Message(t *testing.T) {
	err := Catalog("load", map[string]any{"path": "tiles.json", "tiles": 0}, "no tiles")
	msg := err.Error()

	for _, want := range []string{"catalog error", "in load", "path=tiles.json", "tiles=0", "no tiles"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestKindOf_Plain(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != 0 {
		t.Errorf("KindOf(plain): got %v, want 0", got)
	}
}
