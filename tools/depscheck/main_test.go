package main

import (
	"strings"
	"testing"
)

func TestCheckReportsForbiddenImports(t *testing.T) {
	input := `{"ImportPath":"scenehub/server/internal/net/ws","Imports":["scenehub/server/internal/router","scenehub/server/internal/store"]}
{"ImportPath":"scenehub/server/internal/scene","Imports":["scenehub/server/internal/store"]}
{"ImportPath":"scenehub/server/internal/network","Imports":["scenehub/server/internal/store"]}`

	violations, err := check(strings.NewReader(input))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	if violations[0] != "scenehub/server/internal/net/ws -> scenehub/server/internal/store" {
		t.Fatalf("unexpected violation %q", violations[0])
	}
}

func TestCheckRejectsBadInput(t *testing.T) {
	if _, err := check(strings.NewReader("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
