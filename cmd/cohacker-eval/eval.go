package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// runner is the part of triage.Engine the evaluation drives.
type runner interface {
	Run(ctx context.Context, id string, req *triage.Request) (*triage.RunResult, error)
}

type caseResult struct {
	Case     evalCase
	Verdict  string
	Path     []triage.StageID
	Fix      string
	Err      error
	Duration time.Duration
}

// Passed reports whether the run finished and matched any expectation.
func (r *caseResult) Passed() bool {
	if r.Err != nil {
		return false
	}
	return r.Case.Expect == "" || r.Case.Expect == r.Verdict
}

// evaluate runs every case through eng with at most concurrency runs in flight.
// Results keep the order of cases.
func evaluate(ctx context.Context, eng runner, cases []evalCase, concurrency int) []caseResult {
	results := make([]caseResult, len(cases))

	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i := range cases {
		g.Go(func() error {
			c := cases[i]
			start := time.Now()
			rr, err := eng.Run(ctx, fmt.Sprintf("eval-%03d", i+1), c.request())

			res := caseResult{Case: c, Err: err, Duration: time.Since(start)}
			if err == nil {
				res.Verdict = rr.Outcome.Verdict()
				res.Path = rr.Path
				res.Fix = rr.Outcome.SuggestedFix
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// report writes a table of results followed by a summary and returns the
// number of cases that failed.
func report(w io.Writer, results []caseResult, verbose bool) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RESULT\tLABEL\tVERDICT\tEXPECT\tPATH\tDURATION")

	failed := 0
	for i := range results {
		r := &results[i]
		status := "ok"
		verdict := r.Verdict
		if r.Err != nil {
			status = "error"
			verdict = string(triage.KindOf(r.Err))
		} else if !r.Passed() {
			status = "FAIL"
		}
		if status != "ok" {
			failed++
		}

		path := make([]string, len(r.Path))
		for j, s := range r.Path {
			path[j] = string(s)
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			status, r.Case.Label, orDash(verdict), orDash(r.Case.Expect),
			orDash(strings.Join(path, ">")), r.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()

	if verbose {
		for i := range results {
			r := &results[i]
			switch {
			case r.Err != nil:
				_, _ = fmt.Fprintf(w, "\n[%s] error: %v\n", r.Case.Label, r.Err)
			case r.Fix != "":
				_, _ = fmt.Fprintf(w, "\n[%s]\n  line: %s\n  fix:  %s\n", r.Case.Label, r.Case.Line, r.Fix)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n%d cases, %d passed, %d failed\n", len(results), len(results)-failed, failed)
	return failed
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
