package stats

import (
	"math"

	"github.com/splitpage/splitpage/internal/store"
)

// Result represents statistical analysis of one experiment
type Result struct {
	Variants        []VariantResult
	Confident       bool    // >= 95% confidence
	ConfidenceLevel float64 // 0-1
	Leading         string  // leading variant label
}

// VariantResult contains statistics for a single variant
type VariantResult struct {
	Label       string
	Views       int
	Conversions int
	Rate        float64
	CILower     float64
	CIUpper     float64
}

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5 // Need data from both variants
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)

	// Pooled proportion under null hypothesis (pA = pB)
	pooledP := float64(aConv+bConv) / float64(aViews+bViews)

	// Standard error of the difference
	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se

	// P(Z < z) gives confidence that A > B
	return normalCDF(z)
}

// normalCDF approximates the cumulative distribution function of the
// standard normal distribution (Abramowitz and Stegun 7.1.26).
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// Analyze calculates full statistics for an experiment. The first variant
// in the configured order is treated as control.
func Analyze(exp *store.Experiment, variantStats []store.VariantStats) *Result {
	if len(exp.Variants) == 0 {
		return &Result{}
	}

	statsMap := make(map[string]store.VariantStats)
	for _, s := range variantStats {
		statsMap[s.Variant] = s
	}

	variants := make([]VariantResult, len(exp.Variants))
	maxRate := 0.0
	leading := 0

	for i, label := range exp.Variants {
		stat := statsMap[label] // zero-valued if no events yet

		rate := 0.0
		if stat.Views > 0 {
			rate = float64(stat.Conversions) / float64(stat.Views)
		}

		ciLower, ciUpper := WilsonInterval(stat.Conversions, stat.Views, 0.95)

		variants[i] = VariantResult{
			Label:       label,
			Views:       stat.Views,
			Conversions: stat.Conversions,
			Rate:        rate,
			CILower:     ciLower,
			CIUpper:     ciUpper,
		}

		if rate > maxRate {
			maxRate = rate
			leading = i
		}
	}

	// Significance between the leading variant and control (index 0);
	// when control leads, compare it against the best challenger.
	var confidenceLevel float64
	if len(variants) >= 2 {
		if leading == 0 {
			bestChallenger := 1
			bestRate := 0.0
			for i := 1; i < len(variants); i++ {
				if variants[i].Rate > bestRate {
					bestRate = variants[i].Rate
					bestChallenger = i
				}
			}
			confidenceLevel = SignificanceTest(
				variants[0].Conversions, variants[0].Views,
				variants[bestChallenger].Conversions, variants[bestChallenger].Views,
			)
		} else {
			confidenceLevel = SignificanceTest(
				variants[leading].Conversions, variants[leading].Views,
				variants[0].Conversions, variants[0].Views,
			)
		}
	}

	return &Result{
		Variants:        variants,
		Confident:       confidenceLevel >= 0.95,
		ConfidenceLevel: confidenceLevel,
		Leading:         exp.Variants[leading],
	}
}
