package models

import (
	"fmt"
	"time"
)

// Severity represents how serious a validation issue is.
// The set is closed: only the four constants below are valid values.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities from least to most serious.
var severityRanks = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Rank returns the numeric rank of the severity, higher meaning more serious.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// IsValid reports whether the severity is one of the defined constants.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// AtLeast reports whether the severity is as serious as min or more so.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// IssueCategory identifies which class of check produced a validation issue.
// The set is closed: only the constants below are valid values.
type IssueCategory string

const (
	CategoryStructure  IssueCategory = "structure"  // empty series, missing fields
	CategoryDuplicates IssueCategory = "duplicates" // repeated timestamps
	CategoryQuality    IssueCategory = "quality"    // price and volume sanity
	CategoryGaps       IssueCategory = "gaps"       // missing stretches between rows
	CategoryCalendar   IssueCategory = "calendar"   // timezone and session consistency
	CategoryMetadata   IssueCategory = "metadata"   // stored metadata disagrees with data
)

// IsValid reports whether the category is one of the defined constants.
func (c IssueCategory) IsValid() bool {
	switch c {
	case CategoryStructure, CategoryDuplicates, CategoryQuality, CategoryGaps, CategoryCalendar, CategoryMetadata:
		return true
	default:
		return false
	}
}

// Issue is a single finding from a validation pass.
// Rows carries the number of affected rows when the check aggregates, zero otherwise.
type Issue struct {
	Category IssueCategory `json:"category"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Rows     int           `json:"rows,omitempty"`
}

// String returns the issue formatted for logs and report output.
func (i Issue) String() string {
	return fmt.Sprintf("[%s/%s] %s", i.Severity, i.Category, i.Message)
}

// ValidationReport collects the findings of one validation pass over a series.
// Valid is derived, not set directly: a report is valid exactly when it holds
// no issue at error severity or above. Call Finalize after the last Add.
type ValidationReport struct {
	Symbol      string      `json:"symbol"`
	Interval    string      `json:"interval"`
	Valid       bool        `json:"valid"`
	Issues      []Issue     `json:"issues"`
	MaxSeverity Severity    `json:"max_severity"`
	Stats       ReportStats `json:"stats"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// ReportStats summarizes the series the report describes.
type ReportStats struct {
	TotalRows     int        `json:"total_rows"`
	ValidatedRows int        `json:"validated_rows"`
	RowsRemoved   int        `json:"rows_removed"`
	RangeStart    *time.Time `json:"range_start,omitempty"`
	RangeEnd      *time.Time `json:"range_end,omitempty"`
}

// NewValidationReport creates an empty report for the given entity.
// The report starts valid with info severity; findings added later escalate it.
func NewValidationReport(symbol, interval string) *ValidationReport {
	return &ValidationReport{
		Symbol:      symbol,
		Interval:    interval,
		Valid:       true,
		Issues:      make([]Issue, 0),
		MaxSeverity: SeverityInfo,
		GeneratedAt: time.Now().UTC(),
	}
}

// Add records a finding and escalates the report's maximum severity when the
// new issue outranks it.
func (r *ValidationReport) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity.Rank() > r.MaxSeverity.Rank() {
		r.MaxSeverity = issue.Severity
	}
}

// Addf records a finding built from a format string.
func (r *ValidationReport) Addf(category IssueCategory, severity Severity, format string, args ...any) {
	r.Add(Issue{Category: category, Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// HasSeverity reports whether any issue is as serious as min or more so.
func (r *ValidationReport) HasSeverity(min Severity) bool {
	return len(r.Issues) > 0 && r.MaxSeverity.AtLeast(min)
}

// Count returns the number of issues recorded at exactly the given severity.
func (r *ValidationReport) Count(severity Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			n++
		}
	}
	return n
}

// ByCategory returns the issues recorded under the given category.
func (r *ValidationReport) ByCategory(category IssueCategory) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Category == category {
			out = append(out, issue)
		}
	}
	return out
}

// Finalize derives the Valid flag from the recorded issues: the report is
// valid exactly when nothing at error severity or above was found. Info and
// warning findings never invalidate a series. Returns the report for chaining.
func (r *ValidationReport) Finalize() *ValidationReport {
	r.Valid = !r.HasSeverity(SeverityError)
	return r
}

// Summary returns a one-line digest suitable for logs and CLI output.
func (r *ValidationReport) Summary() string {
	status := "valid"
	if !r.Valid {
		status = "invalid"
	}
	return fmt.Sprintf("%s %s: %s (%d rows, %d errors, %d warnings, %d info)",
		r.Symbol, r.Interval, status, r.Stats.ValidatedRows,
		r.Count(SeverityError)+r.Count(SeverityCritical), r.Count(SeverityWarning), r.Count(SeverityInfo))
}
