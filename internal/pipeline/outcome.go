package pipeline

import (
	"fmt"
	"io"
	"sort"
)

// OutcomeStatus is what happened to a document in a run.
type OutcomeStatus string

const (
	OutcomeProcessed        OutcomeStatus = "processed"
	OutcomeSkipped          OutcomeStatus = "skipped"
	OutcomeAlreadyProcessed OutcomeStatus = "already_processed"
	OutcomeDryRun           OutcomeStatus = "dry_run"
)

// Outcome is the result of processing one document.
type Outcome struct {
	DocumentID string
	Respondent string
	Status     OutcomeStatus

	// Reason and Err are set for skipped documents.
	Reason Kind
	Err    error

	Stage       Stage
	Records     int
	RowsWritten int
	Dropped     int
}

// Summary counts outcomes of a run.
type Summary struct {
	Processed        int
	AlreadyProcessed int
	DryRun           int
	Skipped          map[Kind]int
	RowsWritten      int
	Dropped          int
	Outcomes         []Outcome
}

func newSummary() *Summary {
	return &Summary{Skipped: make(map[Kind]int)}
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.RowsWritten += o.RowsWritten
	s.Dropped += o.Dropped

	switch o.Status {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeAlreadyProcessed:
		s.AlreadyProcessed++
	case OutcomeDryRun:
		s.DryRun++
	case OutcomeSkipped:
		s.Skipped[o.Reason]++
	}
}

// SkippedTotal returns the number of skipped documents of any kind.
func (s *Summary) SkippedTotal() int {
	var n int
	for _, count := range s.Skipped {
		n += count
	}
	return n
}

// Write prints a human-readable report.
func (s *Summary) Write(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("processed:          %d", s.Processed),
		fmt.Sprintf("already processed:  %d", s.AlreadyProcessed),
	}
	if s.DryRun > 0 {
		lines = append(lines, fmt.Sprintf("dry run:            %d", s.DryRun))
	}
	lines = append(lines, fmt.Sprintf("skipped:            %d", s.SkippedTotal()))

	kinds := make([]string, 0, len(s.Skipped))
	for kind := range s.Skipped {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		lines = append(lines, fmt.Sprintf("  %-24s %d", kind+":", s.Skipped[Kind(kind)]))
	}
	lines = append(lines,
		fmt.Sprintf("rows written:       %d", s.RowsWritten),
		fmt.Sprintf("records dropped:    %d", s.Dropped),
	)

	for _, o := range s.Outcomes {
		if o.Status == OutcomeSkipped {
			lines = append(lines, fmt.Sprintf("skipped %s (%s): %v", o.DocumentID, o.Reason, o.Err))
		}
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
