package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

var (
	// fatih/color disables these automatically when stdout is not a TTY.
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)
	dimColor     = color.New(color.FgHiBlack)
)

// printSection prints a section header
func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintln(w)
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
	_, _ = fmt.Fprintln(w)
}

// printSuccess prints a success message with a checkmark
func printSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", msg)
}

// printWarning prints a warning message with a warning symbol
func printWarning(w io.Writer, msg string) {
	_, _ = warningColor.Fprintf(w, "⚠ %s\n", msg)
}

func printInfo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, msg)
}

// printLabelValue prints a label-value pair with proper formatting
func printLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	_, _ = valueColor.Fprintln(w, value)
}

// printList prints a list of items with bullet points
func printList(w io.Writer, items []string, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, item := range items {
		_, _ = infoColor.Fprintf(w, "%s• %s\n", indentStr, item)
	}
}

// printEmptyState prints a message when there's no data to show
func printEmptyState(w io.Writer, msg string) {
	_, _ = dimColor.Fprintf(w, "  %s\n", msg)
}

// printCatalog prints projects and their repositories in lexical order.
func printCatalog(w io.Writer, projects map[string][]string) {
	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, _ = headerColor.Fprintf(w, "  %s\n", name)
		printList(w, projects[name], 2)
	}
}

// pluralize renders a count with the matching noun form
func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}
