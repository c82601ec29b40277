package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/pipeline"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status Output
// =============================================================================

// printer writes styled status lines. Commands print to cmd.OutOrStdout()
// so output can be captured in tests.
type printer struct {
	w io.Writer
}

func (p printer) success(format string, args ...any) {
	fmt.Fprintln(p.w, styleIconSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func (p printer) failure(format string, args ...any) {
	fmt.Fprintln(p.w, styleIconError.Render(iconError)+" "+fmt.Sprintf(format, args...))
}

func (p printer) warning(format string, args ...any) {
	fmt.Fprintln(p.w, styleIconWarning.Render(iconWarning)+" "+StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func (p printer) info(format string, args ...any) {
	fmt.Fprintln(p.w, styleIconInfo.Render(iconInfo)+" "+fmt.Sprintf(format, args...))
}

// detail prints an indented, dimmed line.
func (p printer) detail(format string, args ...any) {
	fmt.Fprintln(p.w, "  "+StyleDim.Render(fmt.Sprintf(format, args...)))
}

// item prints an indented list entry.
func (p printer) item(s string) {
	fmt.Fprintln(p.w, "  "+StyleDim.Render(iconArrow)+" "+StyleValue.Render(s))
}

func (p printer) keyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Fprintln(p.w, keyStyle.Render(key)+" "+StyleValue.Render(value))
}

// =============================================================================
// Run Summary
// =============================================================================

// result prints the outcome of a pipeline run.
func (p printer) result(res *pipeline.Result) {
	updated := history.Updated(res.Updated)
	switch res.Status {
	case history.StatusPublished:
		p.success("Published %s", plural(len(updated), "version"))
	case history.StatusPlanned:
		p.info("Plan: %s to publish", plural(len(updated), "version"))
	case history.StatusUnchanged:
		p.success("Up to date")
	case history.StatusFailed:
		p.failure("Run failed")
	}
	for _, v := range updated {
		p.item(v)
	}
	for _, v := range res.Pruned {
		p.item(v + " " + StyleWarning.Render("(removed)"))
	}

	if res.Changes != nil {
		added, modified, deleted := res.Changes.Counts()
		p.detail("%d added · %d modified · %d deleted", added, modified, deleted)
	}
	if res.CommitSHA != "" {
		p.keyValue("commit", res.CommitSHA)
		p.keyValue("uploaded", fmt.Sprintf("%d blobs, %d reused", res.Stats.Uploaded, res.Stats.Reused))
	}
	if res.Status == history.StatusPlanned && len(res.InvalidationPaths) > 0 {
		p.keyValue("invalidate", strings.Join(res.InvalidationPaths, " "))
	}
	if res.InvalidationID != "" {
		p.keyValue("purge", res.InvalidationID)
	}
	p.keyValue("duration", res.Stats.Duration.Round(time.Millisecond).String())
}

// runs prints recent history entries, newest first.
func (p printer) runs(runs []*history.Run) {
	if len(runs) == 0 {
		p.info("No runs recorded")
		return
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %-8s  %s",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Trigger,
			r.Duration().Round(time.Second))
		if r.FailedStage != "" {
			line += "  " + StyleWarning.Render("failed in "+r.FailedStage)
		}
		fmt.Fprintln(p.w, StyleValue.Render(line))
		if len(r.UpdatedVersions) > 0 {
			p.detail("%s", strings.Join(r.UpdatedVersions, ", "))
		}
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%s %ss", StyleNumber.Render(fmt.Sprint(n)), noun)
}
