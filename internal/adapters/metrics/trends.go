package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// AnalysisType selects what analyze_trends computes per series.
type AnalysisType string

// Analysis types.
const (
	AnalysisBasic   AnalysisType = "basic"
	AnalysisTrend   AnalysisType = "trend"
	AnalysisAnomaly AnalysisType = "anomaly"
)

// Trend directions.
const (
	TrendIncreasing   = "increasing"
	TrendDecreasing   = "decreasing"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

const (
	// stableRatio is the slope, relative to the average, below which a series is stable.
	stableRatio = 0.01

	// anomalySigma is the distance from the mean, in standard deviations, that marks an anomaly.
	anomalySigma = 2

	// maxAnomalies caps the anomalies reported per series.
	maxAnomalies = 10

	// minAnomalyPoints is the number of points a series needs for anomaly detection.
	minAnomalyPoints = 4
)

// Anomaly is one sample far from the series mean.
type Anomaly struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
	Deviation float64 `json:"deviation"`
	ZScore    float64 `json:"z_score"`
}

// SeriesAnalysis is the per-series outcome of analyze_trends. Fields not
// produced by the selected analysis are omitted.
type SeriesAnalysis struct {
	Metric     map[string]string `json:"metric"`
	DataPoints int               `json:"data_points"`

	Average *float64 `json:"average_value,omitempty"`
	Min     *float64 `json:"min_value,omitempty"`
	Max     *float64 `json:"max_value,omitempty"`

	Trend            string   `json:"trend,omitempty"`
	Slope            *float64 `json:"slope,omitempty"`
	Recent           *float64 `json:"recent_value,omitempty"`
	PercentageChange *float64 `json:"percentage_change,omitempty"`

	AnomaliesFound *bool     `json:"anomalies_found,omitempty"`
	AnomalyCount   int       `json:"anomaly_count,omitempty"`
	Anomalies      []Anomaly `json:"anomalies,omitempty"`
	StdDeviation   *float64  `json:"std_deviation,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// Report is the aggregate outcome of analyze_trends.
type Report struct {
	Summary         string           `json:"summary"`
	Series          []SeriesAnalysis `json:"results"`
	Recommendations []string         `json:"recommendations"`
}

func parseAnalysisType(s string) (AnalysisType, error) {
	switch AnalysisType(strings.ToLower(strings.TrimSpace(s))) {
	case "", AnalysisBasic:
		return AnalysisBasic, nil
	case AnalysisTrend:
		return AnalysisTrend, nil
	case AnalysisAnomaly:
		return AnalysisAnomaly, nil
	}
	return "", &dispatch.InvalidParameterError{
		Operation: OpAnalyzeTrends,
		Param:     "analysis_type",
		Reason:    "must be one of basic, trend, anomaly",
	}
}

// parseWindow parses a look-back window written as Nm, Nh or Nd and returns
// it with the query step used to sample it.
func parseWindow(s string) (time.Duration, time.Duration, error) {
	invalid := &dispatch.InvalidParameterError{
		Operation: OpAnalyzeTrends,
		Param:     "duration",
		Reason:    "must be a positive number followed by m, h or d",
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, 0, invalid
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, 0, invalid
	}

	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, 30 * time.Second, nil
	case 'h':
		step := 5 * time.Minute
		switch {
		case n <= 1:
			step = 30 * time.Second
		case n <= 6:
			step = time.Minute
		}
		return time.Duration(n) * time.Hour, step, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, 30 * time.Minute, nil
	}
	return 0, 0, invalid
}

// analyze runs the selected analysis on every series of the matrix.
func analyze(matrix model.Matrix, kind AnalysisType) Report {
	report := Report{Series: []SeriesAnalysis{}, Recommendations: []string{}}

	for _, stream := range matrix {
		var ts, values []float64
		for _, p := range stream.Values {
			v := float64(p.Value)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			ts = append(ts, float64(p.Timestamp.Unix()))
			values = append(values, v)
		}
		if len(values) == 0 {
			continue
		}

		labels := make(map[string]string, len(stream.Metric))
		for k, v := range stream.Metric {
			labels[string(k)] = string(v)
		}
		sa := SeriesAnalysis{Metric: labels, DataPoints: len(values)}

		switch kind {
		case AnalysisTrend:
			trend(&sa, values)
		case AnalysisAnomaly:
			anomalies(&sa, ts, values)
		default:
			basic(&sa, values)
		}
		report.Series = append(report.Series, sa)
	}

	if len(report.Series) == 0 {
		report.Summary = "No data found for the query in the requested window"
		report.Recommendations = append(report.Recommendations, "Try a different time range or query")
		return report
	}

	switch kind {
	case AnalysisTrend:
		var up, down int
		for _, sa := range report.Series {
			switch sa.Trend {
			case TrendIncreasing:
				up++
			case TrendDecreasing:
				down++
			}
		}
		var parts []string
		if up > 0 {
			parts = append(parts, fmt.Sprintf("Found %d series with increasing trends.", up))
			report.Recommendations = append(report.Recommendations, "Monitor increasing metrics for potential resource exhaustion")
		}
		if down > 0 {
			parts = append(parts, fmt.Sprintf("Found %d series with decreasing trends.", down))
			report.Recommendations = append(report.Recommendations, "Investigate decreasing metrics for potential issues")
		}
		if len(parts) == 0 {
			parts = append(parts, fmt.Sprintf("All %d series are stable.", len(report.Series)))
		}
		report.Summary = strings.Join(parts, " ")
	case AnalysisAnomaly:
		var total, affected int
		for _, sa := range report.Series {
			if sa.AnomalyCount > 0 {
				total += sa.AnomalyCount
				affected++
			}
		}
		if affected == 0 {
			report.Summary = "No significant anomalies detected."
			break
		}
		report.Summary = fmt.Sprintf("Detected %d anomalies across %d series.", total, affected)
		report.Recommendations = append(report.Recommendations,
			"Investigate anomalous metrics for potential issues",
			"Check system logs around anomaly timestamps")
	default:
		report.Summary = fmt.Sprintf("Analyzed %d series.", len(report.Series))
	}
	return report
}

func basic(sa *SeriesAnalysis, values []float64) {
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	avg := sum / float64(len(values))
	sa.Average, sa.Min, sa.Max = &avg, &lo, &hi
}

// trend fits a least-squares line over the sample index.
func trend(sa *SeriesAnalysis, values []float64) {
	n := float64(len(values))
	if len(values) < 2 {
		sa.Trend = TrendInsufficient
		return
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		sa.Trend = TrendInsufficient
		return
	}

	slope := (n*sumXY - sumX*sumY) / denom
	avg := sumY / n
	recent := values[len(values)-1]
	change := 0.0
	if avg != 0 {
		change = (recent - avg) / avg * 100
	}

	switch {
	case math.Abs(slope) < math.Abs(avg)*stableRatio:
		sa.Trend = TrendStable
	case slope > 0:
		sa.Trend = TrendIncreasing
	default:
		sa.Trend = TrendDecreasing
	}
	sa.Slope, sa.Average, sa.Recent, sa.PercentageChange = &slope, &avg, &recent, &change
}

// anomalies reports samples more than two population standard deviations
// from the mean.
func anomalies(sa *SeriesAnalysis, ts, values []float64) {
	found := false
	sa.AnomaliesFound = &found
	if len(values) < minAnomalyPoints {
		sa.Reason = "Insufficient data points for anomaly detection"
		return
	}

	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / n
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	std := math.Sqrt(variance / n)

	var out []Anomaly
	for i, v := range values {
		dev := math.Abs(v - avg)
		if dev <= anomalySigma*std {
			continue
		}
		z := 0.0
		if std != 0 {
			z = dev / std
		}
		out = append(out, Anomaly{Timestamp: ts[i], Value: v, Deviation: dev, ZScore: z})
	}

	found = len(out) > 0
	sa.AnomalyCount = len(out)
	if len(out) > maxAnomalies {
		out = out[:maxAnomalies]
	}
	sa.Anomalies = out
	sa.Average, sa.StdDeviation = &avg, &std
}
