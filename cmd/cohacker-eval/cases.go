package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// evalCase is one labelled line with its surrounding code.
type evalCase struct {
	Label string `yaml:"label"`
	Line  string `yaml:"line"`
	Scope string `yaml:"scope,omitempty"`
	File  string `yaml:"file,omitempty"`

	// Expect is the verdict the run must produce. Empty accepts any verdict.
	Expect string `yaml:"expect,omitempty"`
}

type caseFile struct {
	Cases []evalCase `yaml:"cases"`
}

var knownVerdicts = map[string]bool{
	"safe":        true,
	"vulnerable":  true,
	"std_upgrade": true,
}

func (c *evalCase) request() *triage.Request {
	return &triage.Request{Line: c.Line, Scope: c.Scope, File: c.File}
}

// loadCases reads a case file. Unknown fields are errors so a typo in an
// expectation cannot silently turn it off.
func loadCases(path string) ([]evalCase, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator's -cases flag
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	return parseCases(data)
}

func parseCases(data []byte) ([]evalCase, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cf caseFile
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("case file is empty")
		}
		return nil, fmt.Errorf("parse cases: %w", err)
	}
	if len(cf.Cases) == 0 {
		return nil, errors.New("case file has no cases")
	}

	var errs []error
	seen := make(map[string]bool, len(cf.Cases))
	for i := range cf.Cases {
		c := &cf.Cases[i]
		c.Line = strings.TrimRight(c.Line, "\n")
		if c.Label == "" {
			c.Label = fmt.Sprintf("case-%d", i+1)
		}
		if seen[c.Label] {
			errs = append(errs, fmt.Errorf("case %d: duplicate label %q", i+1, c.Label))
		}
		seen[c.Label] = true
		if err := c.request().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("case %q: %w", c.Label, err))
		}
		if c.Expect != "" && !knownVerdicts[c.Expect] {
			errs = append(errs, fmt.Errorf("case %q: unknown expect %q (want safe, vulnerable or std_upgrade)", c.Label, c.Expect))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cf.Cases, nil
}

// filterCases keeps cases whose label contains substr, case-insensitively.
func filterCases(cases []evalCase, substr string) []evalCase {
	if substr == "" {
		return cases
	}
	substr = strings.ToLower(substr)
	var out []evalCase
	for _, c := range cases {
		if strings.Contains(strings.ToLower(c.Label), substr) {
			out = append(out, c)
		}
	}
	return out
}
