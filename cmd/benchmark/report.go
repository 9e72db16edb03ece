package main

import (
	"cmp"
	"slices"

	"github.com/opensource-finance/kestrel/internal/inject"
)

// Outcome is one scored merchant compared with its ground truth.
type Outcome struct {
	MerchantID string         `json:"merchant_id"`
	Fraud      bool           `json:"fraud"`
	Pattern    inject.Pattern `json:"pattern,omitempty"`
	Alerted    bool           `json:"alerted"`
	Score      float64        `json:"score"`
}

// Report tracks benchmark results.
type Report struct {
	TruePositives  int `json:"true_positives"`  // Fraud merchant alerted
	FalsePositives int `json:"false_positives"` // Clean merchant alerted
	TrueNegatives  int `json:"true_negatives"`  // Clean merchant not alerted
	FalseNegatives int `json:"false_negatives"` // Fraud merchant missed

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`

	Patterns []PatternRecall `json:"patterns"`
}

// PatternRecall is the share of merchants of one pattern that were alerted.
type PatternRecall struct {
	Pattern  inject.Pattern `json:"pattern"`
	Detected int            `json:"detected"`
	Total    int            `json:"total"`
	Recall   float64        `json:"recall"`
}

// Evaluate builds the confusion matrix and derived metrics.
func Evaluate(outcomes []Outcome) *Report {
	r := &Report{}
	byPattern := make(map[inject.Pattern]*PatternRecall)

	for _, o := range outcomes {
		switch {
		case o.Alerted && o.Fraud:
			r.TruePositives++
		case o.Alerted && !o.Fraud:
			r.FalsePositives++
		case !o.Alerted && !o.Fraud:
			r.TrueNegatives++
		default:
			r.FalseNegatives++
		}

		if !o.Fraud {
			continue
		}
		pr, ok := byPattern[o.Pattern]
		if !ok {
			pr = &PatternRecall{Pattern: o.Pattern}
			byPattern[o.Pattern] = pr
		}
		pr.Total++
		if o.Alerted {
			pr.Detected++
		}
	}

	r.Precision = ratio(r.TruePositives, r.TruePositives+r.FalsePositives)
	r.Recall = ratio(r.TruePositives, r.TruePositives+r.FalseNegatives)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.Accuracy = ratio(r.TruePositives+r.TrueNegatives, len(outcomes))

	for _, pr := range byPattern {
		pr.Recall = ratio(pr.Detected, pr.Total)
		r.Patterns = append(r.Patterns, *pr)
	}
	slices.SortFunc(r.Patterns, func(a, b PatternRecall) int {
		return cmp.Compare(a.Pattern, b.Pattern)
	})

	return r
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
