package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette — named constants for all ANSI 256 colors used in the CLI.
// These are the single source of truth; never use inline lipgloss.Color literals.
var (
	// ColorCyan is used for identifiable nouns: node ids, module ids, terminal names.
	ColorCyan = lipgloss.Color("14")

	// colorGreen is used for the "satisfied"/"hit" status (bright, high-visibility).
	colorGreen = lipgloss.Color("82")

	// ColorYellow is used for the "stale" status and position markers (line:col).
	ColorYellow = lipgloss.Color("220")

	// colorRed is used for the "unsatisfied" status.
	colorRed = lipgloss.Color("196")

	// colorBoldRed is used for the "failed" status (matches ERROR level).
	colorBoldRed = lipgloss.Color("204")

	// colorGreenCheck is used for the completion checkmark (✔).
	colorGreenCheck = lipgloss.Color("10")
)

// Semantic styles — map domain concepts to visual presentation.
var (
	// styleNoun styles identifiable nouns (node ids, module ids, terminal names).
	styleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

	// styleDim styles structural chrome (scope prefixes, separators, timestamps).
	styleDim = lipgloss.NewStyle().Faint(true)
)

// Node/terminal status constants.
const (
	StatusSatisfied   = "satisfied"
	StatusCacheHit    = "cache-hit"
	StatusUnchanged   = "unchanged"
	StatusUnsatisfied = "unsatisfied"
	StatusValid       = "valid"
	statusFailed      = "failed"
)

// statusStyle returns the lipgloss style for a given status string.
// Unknown statuses return an unstyled default.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case StatusSatisfied, StatusCacheHit, StatusValid:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case StatusUnchanged:
		return lipgloss.NewStyle().Faint(true)
	case StatusUnsatisfied:
		return lipgloss.NewStyle().Foreground(colorRed)
	case statusFailed:
		return lipgloss.NewStyle().Bold(true).Foreground(colorBoldRed)
	default:
		return lipgloss.NewStyle()
	}
}

// minNodeColumnWidth is the minimum width for the node path column
// before the status suffix. This ensures status words align consistently.
const minNodeColumnWidth = 48

// FormatNodeLine renders a "node:terminal" identifier with a right-aligned,
// color-coded status suffix.
//
// Format: n:<moduleID>/<terminal>  <status>
//
// The "n:" prefix is dim, the path is cyan, and the status uses statusStyle.
func FormatNodeLine(moduleID, terminal, status string) string {
	path := fmt.Sprintf("%s/%s", moduleID, terminal)

	padding := minNodeColumnWidth - len(path)
	if padding < 2 {
		padding = 2
	}

	prefix := styleDim.Render("n:")
	styledPath := styleNoun.Render(path)
	styledStatus := statusStyle(status).Render(status)

	return prefix + styledPath + strings.Repeat(" ", padding) + styledStatus
}

// FormatCheckmark renders a green checkmark with a message for stdout output.
func FormatCheckmark(msg string) string {
	check := lipgloss.NewStyle().Foreground(colorGreenCheck).Render("✔")
	return check + " " + msg
}

// FormatNotice renders a yellow arrow with a message for action-required output.
// Use this for "next steps" guidance where user action is needed, e.g. the
// MissingFile retry instruction.
func FormatNotice(msg string) string {
	arrow := lipgloss.NewStyle().Foreground(ColorYellow).Render("▶")
	return arrow + " " + msg
}

// FormatFingerprint abbreviates a fingerprint for display by keeping its
// first 12 hex characters, matching the teacher's FQN-shortening idiom.
func FormatFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}

// FormatSatisfied renders a satisfied-module match line.
//
// Format: ▸ <moduleID> ← satisfied
//
// The bullet and module id are cyan. The arrow and detail are dim.
func FormatSatisfied(moduleID string) string {
	bullet := styleNoun.Render("▸")
	name := styleNoun.Render(moduleID)
	arrow := styleDim.Render("←")
	detail := styleDim.Render("satisfied")
	return bullet + " " + name + " " + arrow + " " + detail
}

// FormatUnsatisfied renders an unsatisfied-module line.
//
// Format: ▸ <moduleID> (missing: <reason>)
//
// The bullet is yellow. The module id is unstyled. The parenthetical is dim.
func FormatUnsatisfied(moduleID, reason string) string {
	bullet := lipgloss.NewStyle().Foreground(ColorYellow).Render("▸")
	detail := styleDim.Render(fmt.Sprintf("(missing: %s)", reason))
	return bullet + " " + moduleID + " " + detail
}

// vetCheckColumnWidth is the alignment column for detail text in FormatCheck.
const vetCheckColumnWidth = 34

// FormatCheck renders a validation check result with a green checkmark, label,
// and optional right-aligned detail text.
//
// Format: ✔ <label>                      <detail>
func FormatCheck(label, detail string) string {
	check := lipgloss.NewStyle().Foreground(colorGreenCheck).Render("✔")
	result := check + " " + label

	if detail != "" {
		padding := vetCheckColumnWidth - len(label)
		if padding < 2 {
			padding = 2
		}
		styledDetail := styleDim.Render(detail)
		result += strings.Repeat(" ", padding) + styledDetail
	}

	return result
}
