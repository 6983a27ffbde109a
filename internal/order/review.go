package order

import (
	"fmt"
	"strings"
)

// Default review thresholds. An order tripping any rule is parked for a
// human instead of going straight to the supplier. Both are configurable via
// [WithReviewThresholds].
const (
	// DefaultReviewTotalThreshold is the order total above which manual
	// review is required.
	DefaultReviewTotalThreshold = 10000.0

	// DefaultReviewConfidenceFloor is the minimum average transcript
	// confidence for automatic processing.
	DefaultReviewConfidenceFloor = 0.85
)

// reviewThresholds holds the effective review rule parameters.
type reviewThresholds struct {
	total           float64
	confidenceFloor float64
}

// evaluateReview applies the review rules to a priced order and returns
// whether it needs review plus a human-readable reason listing every rule
// that fired. The confidence rule keys on the call's average transcript
// confidence; a zero average means no transcripts were measured and never
// fires the rule.
func evaluateReview(o Order, th reviewThresholds) (bool, string) {
	var reasons []string

	if o.Total > th.total {
		reasons = append(reasons, fmt.Sprintf("total %.2f exceeds %.0f", o.Total, th.total))
	}

	if o.AvgConfidence > 0 && o.AvgConfidence < th.confidenceFloor {
		reasons = append(reasons, fmt.Sprintf("average transcript confidence %.2f below %.2f", o.AvgConfidence, th.confidenceFloor))
	}

	for _, l := range o.Lines {
		if !l.InStock {
			reasons = append(reasons, fmt.Sprintf("%s out of stock", l.DisplayName))
		}
	}

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}
