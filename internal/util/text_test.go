package util

import (
	"strings"
	"testing"
)

func TestTruncateTailKeepsRecentContent(t *testing.T) {
	s := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := TruncateTail(s, 50)
	if !strings.HasSuffix(out, strings.Repeat("b", 50)) {
		t.Fatalf("expected tail preserved, got %q", out)
	}
	if !strings.HasPrefix(out, "[...") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}

func TestTruncateTailNoopUnderBudget(t *testing.T) {
	if got := TruncateTail("short", 100); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := JoinNonEmpty("\n", "a", "", "  ", "b"); got != "a\nb" {
		t.Fatalf("unexpected join: %q", got)
	}
}
