package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"capacityeval/internal/billing"
)

var (
	headerColor   = color.New(color.Bold)
	savingsColor  = color.New(color.FgGreen, color.Bold)
	failureColor  = color.New(color.FgRed)
	statusColours = map[billing.Status]*color.Color{
		billing.NotOptimized:  color.New(color.FgYellow),
		billing.Optimized:     color.New(color.FgGreen),
		billing.LowConfidence: color.New(color.FgCyan),
		billing.NotActionable: color.New(color.Faint),
	}
)

// PrintSummary writes a human readable table of the report
func PrintSummary(w io.Writer, report *Report) {
	headerColor.Fprintf(w, "Evaluated %d resources", report.Summary.Evaluated)
	if report.Region != "" {
		headerColor.Fprintf(w, " in %s", report.Region)
	}
	fmt.Fprintln(w)

	if len(report.Recommendations) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RESOURCE\tCURRENT\tRECOMMENDED\tSTATUS\tCONFIDENCE\tMONTHLY SAVINGS")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				rec.ResourceID,
				rec.CurrentMode,
				rec.RecommendedMode,
				statusString(rec.Status),
				rec.Confidence,
				formatUSD(rec.MonthlySavings))
		}
		tw.Flush()
	}

	for _, f := range report.Failures {
		failureColor.Fprintf(w, "FAILED %s: %s\n", f.ResourceID, f.Error)
	}

	fmt.Fprintf(w, "Current monthly cost: %s\n", formatUSD(report.Summary.CurrentMonthlyCost))
	savingsColor.Fprintf(w, "Potential monthly savings: %s (%d not optimized)\n",
		formatUSD(report.Summary.MonthlySavings), report.Summary.NotOptimized)
}

func statusString(s billing.Status) string {
	if c, ok := statusColours[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func formatUSD(v float64) string {
	s := fmt.Sprintf("$%.2f", v)
	if strings.HasPrefix(s, "$-") {
		return "-$" + s[2:]
	}
	return s
}

// formatBytes formats bytes into human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
