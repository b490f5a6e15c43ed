package dataset

import (
	"math"
	"time"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

// StatusNotDetected is the sentinel bucket for records that carry no
// status label at all.
const StatusNotDetected = "Tidak Terdeteksi"

// recentWindow is the trailing activity window counted by the reducer.
const recentWindow = 7 * 24 * time.Hour

// ConfidenceDistribution buckets records by confidence percentage:
// low < 70, 70 <= medium < 85, high >= 85.
type ConfidenceDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Statistics is the aggregate view of a record set. It is derived, never
// persisted, and superseded wholesale on every refresh.
type Statistics struct {
	Total                  int                    `json:"total"`
	AverageConfidence      float64                `json:"average_confidence"`
	DetectionRate          float64                `json:"detection_rate,omitempty"`
	RecentActivity         int                    `json:"recent_activity"`
	ConfidenceDistribution ConfidenceDistribution `json:"confidence_distribution"`
	AllergenBreakdown      map[string]int         `json:"allergen_breakdown"`
	StatusBreakdown        map[string]int         `json:"status_breakdown"`
	RiskBreakdown          map[string]int         `json:"risk_breakdown"`
	BahanUtamaBreakdown    map[string]int         `json:"bahan_utama_breakdown"`
	PemanisBreakdown       map[string]int         `json:"pemanis_breakdown"`
	LemakMinyakBreakdown   map[string]int         `json:"lemak_minyak_breakdown"`
	PenyedapRasaBreakdown  map[string]int         `json:"penyedap_rasa_breakdown"`
}

func emptyStatistics() *Statistics {
	return &Statistics{
		AllergenBreakdown:     map[string]int{},
		StatusBreakdown:       map[string]int{},
		RiskBreakdown:         map[string]int{},
		BahanUtamaBreakdown:   map[string]int{},
		PemanisBreakdown:      map[string]int{},
		LemakMinyakBreakdown:  map[string]int{},
		PenyedapRasaBreakdown: map[string]int{},
	}
}

// Aggregate folds a record set into Statistics in a single pass. The
// result is independent of record order. Malformed fields contribute
// zero instead of failing the fold; an empty input yields the all-zero
// Statistics, which is a defined terminal state rather than an error.
func Aggregate(records []allerscan.PredictionRecord, now time.Time) *Statistics {
	s := emptyStatistics()
	if len(records) == 0 {
		return s
	}

	s.Total = len(records)
	cutoff := now.Add(-recentWindow)

	var confidenceSum float64
	for i := range records {
		r := &records[i]

		confidenceSum += r.ConfidenceScore.Percent()

		status := r.Status()
		if status == "" {
			status = StatusNotDetected
		}
		s.StatusBreakdown[status]++

		for _, name := range r.DetectedAllergens.Names() {
			s.AllergenBreakdown[name]++
		}

		risk := r.RiskLevel
		if risk == "" {
			risk = "none"
		}
		s.RiskBreakdown[risk]++

		switch pct := r.ConfidenceScore.Percent(); {
		case pct < 70:
			s.ConfidenceDistribution.Low++
		case pct < 85:
			s.ConfidenceDistribution.Medium++
		default:
			s.ConfidenceDistribution.High++
		}

		if created := r.Created(); !created.IsZero() && created.After(cutoff) {
			s.RecentActivity++
		}

		countField(s.BahanUtamaBreakdown, r.BahanUtama)
		countField(s.PemanisBreakdown, r.Pemanis)
		countField(s.LemakMinyakBreakdown, r.LemakMinyak)
		countField(s.PenyedapRasaBreakdown, r.PenyedapRasa)
	}

	s.AverageConfidence = round2(confidenceSum / float64(s.Total))
	return s
}

// countField counts a trimmed non-empty ingredient value. Explicit
// "none" sentinels like "Tidak Ada" are countable categories, not
// absence.
func countField(m map[string]int, value string) {
	if !isBlank(value) {
		m[value]++
	}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// FromBackend maps the statistics endpoint's overview/chart shape into
// Statistics. The endpoint carries no confidence histogram, no recent
// activity and no ingredient breakdowns; those stay zero until
// FillFromRecords backfills them. The original dashboard fabricated an
// approximate histogram here instead, which was wrong and is not
// reproduced.
func FromBackend(bs *allerscan.BackendStatistics) *Statistics {
	s := emptyStatistics()
	if bs == nil {
		return s
	}
	s.Total = bs.Overview.TotalPredictions
	s.AverageConfidence = round2(bs.Overview.AverageConfidence)
	s.DetectionRate = bs.Overview.DetectionRate
	for _, nc := range bs.ChartData.AllergensDistribution {
		if nc.Name != "" {
			s.AllergenBreakdown[nc.Name] = nc.Count
		}
	}
	for _, nc := range bs.ChartData.DetectionPie {
		if nc.Name != "" {
			s.StatusBreakdown[nc.Name] = nc.Count
		}
	}
	for _, lc := range bs.ChartData.RiskDistribution {
		if lc.Level != "" {
			s.RiskBreakdown[lc.Level] = lc.Count
		}
	}
	return s
}

// FillFromRecords backfills the pieces the backend statistics endpoint
// does not report, folding them from an actual record set.
func (s *Statistics) FillFromRecords(records []allerscan.PredictionRecord, now time.Time) {
	derived := Aggregate(records, now)
	s.ConfidenceDistribution = derived.ConfidenceDistribution
	s.RecentActivity = derived.RecentActivity
	s.BahanUtamaBreakdown = derived.BahanUtamaBreakdown
	s.PemanisBreakdown = derived.PemanisBreakdown
	s.LemakMinyakBreakdown = derived.LemakMinyakBreakdown
	s.PenyedapRasaBreakdown = derived.PenyedapRasaBreakdown
}
