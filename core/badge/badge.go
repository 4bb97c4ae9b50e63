// Package badge generates SVG status badges from verification reports,
// shields.io flat style. A badge summarizes delivery readiness for
// dashboards and document inventories without exposing the full report.
package badge

import (
	"fmt"
	"math"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

// Result holds badge generation output.
type Result struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Color string `json:"color"`
	SVG   string `json:"svg,omitempty"`
}

// recommendationColors maps delivery verdicts to badge colors.
var recommendationColors = map[report.Recommendation]string{
	report.RecommendationDeliver:      "#4c1",
	report.RecommendationUnsealed:     "#dfb317",
	report.RecommendationDoNotDeliver: "#b60205",
}

// SeverityBadgeColors maps severity levels to badge colors for non-zero
// counts.
var SeverityBadgeColors = map[findings.Severity]string{
	findings.SeverityCritical: "#b60205",
	findings.SeverityMajor:    "#e05d44",
	findings.SeverityMinor:    "#dfb317",
	findings.SeverityInfo:     "#a3c51c",
}

// SeverityOrder defines the order in which severity badges are generated.
var SeverityOrder = []findings.Severity{
	findings.SeverityCritical,
	findings.SeverityMajor,
	findings.SeverityMinor,
	findings.SeverityInfo,
}

// CountBySeverity tallies findings by severity level.
func CountBySeverity(ff []findings.Finding) map[findings.Severity]int {
	counts := make(map[findings.Severity]int)
	for i := range ff {
		counts[ff[i].Severity]++
	}
	return counts
}

// FromReport creates the delivery-readiness badge for a verification
// report.
func FromReport(rep *report.VerificationReport, label string) *Result {
	value := string(rep.Recommendation)
	color, ok := recommendationColors[rep.Recommendation]
	if !ok {
		color = "#808080"
	}
	return &Result{
		Label: label,
		Value: value,
		Color: color,
		SVG:   GenerateSVG(label, value, color),
	}
}

// SeverityBadges generates per-severity count badges from the flattened
// finding list of a report.
func SeverityBadges(ff []findings.Finding, label string) map[findings.Severity]*Result {
	counts := CountBySeverity(ff)
	results := make(map[findings.Severity]*Result)

	for _, sev := range SeverityOrder {
		count := counts[sev]
		badgeLabel := label + " " + string(sev)
		badgeValue := fmt.Sprintf("%d", count)

		color := "#4c1" // green for zero
		if count > 0 {
			color = SeverityBadgeColors[sev]
		}

		results[sev] = &Result{
			Label: badgeLabel,
			Value: badgeValue,
			Color: color,
			SVG:   GenerateSVG(badgeLabel, badgeValue, color),
		}
	}

	return results
}

// GenerateSVG produces an SVG badge string for the given label, value, and
// color.
func GenerateSVG(label, value, color string) string {
	labelW := textWidth(label) + 10
	valueW := textWidth(value) + 10
	totalW := labelW + valueW

	// Text positions are in tenths of a pixel (SVG uses scale(.1)).
	labelX := labelW * 10 / 2
	valueX := (labelW + valueW/2) * 10

	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%d" height="20" role="img" aria-label="%s: %s">
  <title>%s: %s</title>
  <linearGradient id="s" x2="0" y2="100%%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <clipPath id="r">
    <rect width="%d" height="20" rx="3" fill="#fff"/>
  </clipPath>
  <g clip-path="url(#r)">
    <rect width="%d" height="20" fill="#555"/>
    <rect x="%d" width="%d" height="20" fill="%s"/>
    <rect width="%d" height="20" fill="url(#s)"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" text-rendering="geometricPrecision" font-size="110">
    <text aria-hidden="true" x="%d" y="150" fill="#010101" fill-opacity=".3" transform="scale(.1)">%s</text>
    <text x="%d" y="140" transform="scale(.1)">%s</text>
    <text aria-hidden="true" x="%d" y="150" fill="#010101" fill-opacity=".3" transform="scale(.1)">%s</text>
    <text x="%d" y="140" transform="scale(.1)">%s</text>
  </g>
</svg>
`,
		totalW, label, value,
		label, value,
		totalW,
		labelW,
		labelW, valueW, color,
		totalW,
		labelX, label,
		labelX, label,
		valueX, value,
		valueX, value,
	)
}

// textWidth estimates the pixel width of a string rendered in Verdana
// 11px, matching the shields.io flat badge style.
func textWidth(s string) int {
	w := 0.0
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
			w += 7.5
		case c >= 'a' && c <= 'z':
			w += 6.1
		case c >= '0' && c <= '9':
			w += 6.5
		case c == ' ':
			w += 3.3
		default:
			w += 6.0
		}
	}
	return int(math.Ceil(w))
}
