package main

import (
	"strings"
	"testing"
)

func TestLoadCases_Testdata(t *testing.T) {
	t.Parallel()

	cases, err := loadCases("testdata/cases.yaml")
	if err != nil {
		t.Fatalf("loadCases: %v", err)
	}
	if len(cases) != 16 {
		t.Fatalf("cases = %d, want 16", len(cases))
	}

	first := cases[0]
	if first.Line != "strcpy(buffer, user_input);" {
		t.Errorf("line = %q", first.Line)
	}
	if first.Expect != "vulnerable" {
		t.Errorf("expect = %q, want vulnerable", first.Expect)
	}
	if !strings.Contains(first.Scope, "char buffer[100];") || !strings.HasPrefix(first.File, "#include <string.h>") {
		t.Errorf("scope/file not loaded: %q / %q", first.Scope, first.File)
	}

	for _, c := range cases {
		if c.Label == "null checked dereference" && c.Line != `return str[0] == '\0';` {
			t.Errorf("escaped line = %q, want %q", c.Line, `return str[0] == '\0';`)
		}
	}
}

func TestLoadCases_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := loadCases("testdata/does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseCases_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"empty document", "", "empty"},
		{"no cases", "cases: []\n", "no cases"},
		{"unknown field", "cases:\n  - label: a\n    line: x;\n    expected: safe\n", "expected"},
		{"blank line", "cases:\n  - label: a\n    line: '   '\n", "current_line is required"},
		{"bad expect", "cases:\n  - label: a\n    line: x;\n    expect: maybe\n", "unknown expect"},
		{"duplicate label", "cases:\n  - label: a\n    line: x;\n  - label: a\n    line: y;\n", "duplicate label"},
		{"not yaml", "cases: [\n", "parse cases"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseCases([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestParseCases_DefaultLabel(t *testing.T) {
	t.Parallel()

	cases, err := parseCases([]byte("cases:\n  - line: x;\n  - line: y;\n"))
	if err != nil {
		t.Fatalf("parseCases: %v", err)
	}
	if cases[0].Label != "case-1" || cases[1].Label != "case-2" {
		t.Errorf("labels = %q, %q, want case-1, case-2", cases[0].Label, cases[1].Label)
	}
}

func TestFilterCases(t *testing.T) {
	t.Parallel()

	cases := []evalCase{{Label: "strcpy into buffer"}, {Label: "Double delete"}, {Label: "manual delete"}}

	tests := []struct {
		filter string
		want   int
	}{
		{"", 3},
		{"delete", 2},
		{"DELETE", 2},
		{"strcpy", 1},
		{"nothing", 0},
	}

	for _, tt := range tests {
		if got := filterCases(cases, tt.filter); len(got) != tt.want {
			t.Errorf("filterCases(%q) = %d cases, want %d", tt.filter, len(got), tt.want)
		}
	}
}
