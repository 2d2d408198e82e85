package errors

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/weft/internal/types"
)

// ErrorSeverity represents the severity of a reported error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Report is one error reported for a build generation.
type Report struct {
	Generation types.Generation `json:"generation"`
	Kind       Kind             `json:"kind,omitempty"`
	Asset      types.AssetID    `json:"asset,omitempty"`
	Message    string           `json:"message"`
	Severity   ErrorSeverity    `json:"severity"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ErrorCollector keeps the errors of the most recent failed generation so the
// dev server can show them until a later generation succeeds.
type ErrorCollector struct {
	reports []Report
	mutex   sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{reports: make([]Report, 0)}
}

// Record replaces the collected reports with err for generation gen.
func (ec *ErrorCollector) Record(gen types.Generation, err error) {
	if err == nil {
		return
	}
	report := Report{
		Generation: gen,
		Kind:       KindOf(err),
		Asset:      AssetOf(err),
		Message:    err.Error(),
		Severity:   ErrorSeverityError,
		Timestamp:  time.Now(),
	}
	if report.Kind == KindWriteFailed || report.Kind == KindDeleteFailed {
		report.Severity = ErrorSeverityFatal
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.reports = append(ec.reports[:0], report)
}

// Reports returns a copy of the collected reports
func (ec *ErrorCollector) Reports() []Report {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]Report, len(ec.reports))
	copy(result, ec.reports)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.reports) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.reports = ec.reports[:0]
}

// ErrorOverlay generates HTML for the error overlay injected into served documents.
func (ec *ErrorCollector) ErrorOverlay() string {
	reports := ec.Reports()
	if len(reports) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`
<div id="weft-error-overlay" style="position:fixed;top:0;left:0;width:100%;height:100%;background:rgba(0,0,0,0.85);color:#fff;font-family:Menlo,Monaco,monospace;font-size:14px;z-index:99999;padding:20px;box-sizing:border-box;overflow:auto;">
	<div style="max-width:1000px;margin:0 auto;">
		<div style="display:flex;justify-content:space-between;align-items:center;margin-bottom:20px;">
			<h2 style="margin:0;color:#ff6b6b;">Build failed</h2>
			<button onclick="document.getElementById('weft-error-overlay').style.display='none'" style="background:none;border:1px solid #ccc;color:#fff;padding:5px 10px;cursor:pointer;">Close</button>
		</div>`)

	for _, r := range reports {
		color := "#ff6b6b"
		if r.Severity == ErrorSeverityWarning {
			color = "#feca57"
		}
		fmt.Fprintf(&b, `
		<div style="background:#2d3748;padding:15px;margin-bottom:15px;border-radius:4px;border-left:4px solid %s;">
			<div style="color:%s;font-weight:bold;margin-bottom:10px;">%s %s (generation %d)</div>
			<pre style="white-space:pre-wrap;margin:0;color:#e2e8f0;">%s</pre>
			<div style="color:#a0aec0;font-size:12px;margin-top:5px;">%s</div>
		</div>`,
			color, color, r.Severity, html.EscapeString(string(r.Kind)), r.Generation,
			html.EscapeString(r.Message), html.EscapeString(r.Asset.String()))
	}

	b.WriteString(`
	</div>
</div>`)
	return b.String()
}
