package retry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Failure is one recorded download failure.
type Failure struct {
	Timestamp time.Time         `json:"timestamp"`
	Symbol    string            `json:"symbol"`
	Interval  string            `json:"interval"`
	Error     string            `json:"error"`
	Context   map[string]string `json:"context,omitempty"`
}

// AlertFunc is called after each recorded failure. Errors and panics from
// the hook are logged and never propagate.
type AlertFunc func(Failure) error

// FilterOptions narrows Failures results. Zero values match everything.
type FilterOptions struct {
	Symbol string
	Since  time.Time
}

// FailureStats summarizes the ledger.
type FailureStats struct {
	Total            int            `json:"total_failures"`
	UniqueSymbols    int            `json:"unique_symbols"`
	MostFailedSymbol string         `json:"most_failed_symbol,omitempty"`
	MostFailedCount  int            `json:"most_failed_count,omitempty"`
	Recent24h        int            `json:"recent_failures_24h"`
	BySymbol         map[string]int `json:"failures_by_symbol"`
}

// Ledger keeps download failures in a JSON file so they survive restarts
// and can be reported on across runs.
type Ledger struct {
	path   string
	alert  AlertFunc
	logger *slog.Logger

	mu       sync.Mutex
	failures []Failure
}

// NewLedger loads the ledger at path, creating parent directories as
// needed. A missing or corrupt file starts an empty ledger.
func NewLedger(path string, alert AlertFunc, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{path: path, alert: alert, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failure ledger unreadable, starting empty", slog.String("error", err.Error()))
		}
		return l
	}
	if err := json.Unmarshal(data, &l.failures); err != nil {
		logger.Warn("failure ledger corrupt, starting empty", slog.String("error", err.Error()))
		l.failures = nil
	}
	return l
}

// LogFailure appends a failure, persists the ledger, and fires the alert
// hook if one is set.
func (l *Ledger) LogFailure(symbol, interval, errMsg string, context map[string]string) error {
	failure := Failure{
		Timestamp: time.Now().UTC(),
		Symbol:    symbol,
		Interval:  interval,
		Error:     errMsg,
		Context:   context,
	}

	l.mu.Lock()
	l.failures = append(l.failures, failure)
	err := l.save()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.fireAlert(failure)
	return nil
}

// Failures returns recorded failures matching the filter, oldest first.
func (l *Ledger) Failures(opts FilterOptions) []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Failure
	for _, f := range l.failures {
		if opts.Symbol != "" && f.Symbol != opts.Symbol {
			continue
		}
		if !opts.Since.IsZero() && f.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Statistics summarizes the ledger contents.
func (l *Ledger) Statistics() FailureStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := FailureStats{
		Total:    len(l.failures),
		BySymbol: make(map[string]int),
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, f := range l.failures {
		stats.BySymbol[f.Symbol]++
		if f.Timestamp.After(cutoff) {
			stats.Recent24h++
		}
	}
	stats.UniqueSymbols = len(stats.BySymbol)
	for symbol, count := range stats.BySymbol {
		if count > stats.MostFailedCount {
			stats.MostFailedSymbol = symbol
			stats.MostFailedCount = count
		}
	}
	return stats
}

// Report renders the ledger as "text" or "json".
func (l *Ledger) Report(format string) (string, error) {
	l.mu.Lock()
	failures := make([]Failure, len(l.failures))
	copy(failures, l.failures)
	l.mu.Unlock()

	switch format {
	case "json":
		return jsonReport(failures)
	case "text", "":
		return textReport(failures), nil
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
}

// WriteReport renders the ledger and writes it to path.
func (l *Ledger) WriteReport(path, format string) error {
	report, err := l.Report(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(report), 0o644)
}

// Clear removes failures. A nil olderThanDays clears everything; otherwise
// only entries older than that many days go. Returns how many were removed.
func (l *Ledger) Clear(olderThanDays *int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.failures)
	if olderThanDays == nil {
		l.failures = nil
	} else {
		cutoff := time.Now().AddDate(0, 0, -*olderThanDays)
		kept := l.failures[:0]
		for _, f := range l.failures {
			if !f.Timestamp.Before(cutoff) {
				kept = append(kept, f)
			}
		}
		l.failures = kept
	}
	removed := before - len(l.failures)
	if removed > 0 {
		if err := l.save(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (l *Ledger) fireAlert(failure Failure) {
	if l.alert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("alert hook panicked", slog.Any("panic", r))
		}
	}()
	if err := l.alert(failure); err != nil {
		l.logger.Warn("alert hook failed", slog.String("error", err.Error()))
	}
}

// save writes the ledger through a temp file and rename. Caller holds mu.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.failures, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode failure ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set ledger permissions: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

func textReport(failures []Failure) string {
	var b strings.Builder
	b.WriteString("Download Failure Report\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Total failures: %d\n", len(failures)))

	if len(failures) == 0 {
		return b.String()
	}

	bySymbol := make(map[string][]Failure)
	for _, f := range failures {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}
	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		entries := bySymbol[symbol]
		b.WriteString(fmt.Sprintf("\n%s (%d failures):\n", symbol, len(entries)))
		for _, f := range entries {
			b.WriteString(fmt.Sprintf("  - %s [%s] %s\n",
				f.Timestamp.Format(time.RFC3339), f.Interval, f.Error))
		}
	}
	return b.String()
}

func jsonReport(failures []Failure) (string, error) {
	bySymbol := make(map[string][]Failure)
	for _, f := range failures {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}
	doc := map[string]any{
		"generated_at":       time.Now().UTC().Format(time.RFC3339),
		"total_failures":     len(failures),
		"failures_by_symbol": bySymbol,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(data), nil
}
