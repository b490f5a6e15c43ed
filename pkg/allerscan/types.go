package allerscan

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// noneSentinel is the literal the backend stores when no allergen was found.
const noneSentinel = "tidak terdeteksi"

// Confidence is a classifier confidence score. The backend has emitted it
// both as a 0-1 fraction and as a 0-100 percentage, and occasionally as a
// quoted numeric string.
type Confidence float64

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*c = Confidence(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	*c = Confidence(f)
	return nil
}

// Percent coerces the score to a 0-100 scale. Values at or below 1 are
// taken as 0-1 fractions; anything larger is assumed to already be a
// percentage. A legitimate 1.0% cannot be told apart from 100% by
// magnitude alone, so callers must not rely on values in that corner.
func (c Confidence) Percent() float64 {
	if c <= 1 {
		return float64(c) * 100
	}
	return float64(c)
}

// FlexTime decodes the timestamp layouts the backend has emitted across
// schema revisions. Unparseable values degrade to the zero time instead
// of failing the whole record.
type FlexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// AllergenEntry is one detected allergen with its per-allergen score.
type AllergenEntry struct {
	Allergen   string     `json:"allergen"`
	Confidence Confidence `json:"confidence,omitempty"`
	RiskLevel  string     `json:"risk_level,omitempty"`
}

// AllergenList tolerates every shape the backend has used for
// detected_allergens: a structured array, an array of bare names, a
// JSON-encoded array inside a string, or a plain display string such as
// "susu, telur" or the "tidak terdeteksi" sentinel.
type AllergenList struct {
	Entries []AllergenEntry
	Raw     string
}

func (l *AllergenList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '[' {
		return l.decodeArray(data)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		if err := l.decodeArray([]byte(s)); err == nil {
			return nil
		}
	}
	// a string that is not structured data is the display form itself
	l.Raw = s
	return nil
}

func (l *AllergenList) decodeArray(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	entries := make([]AllergenEntry, 0, len(raws))
	for _, r := range raws {
		var e AllergenEntry
		if err := json.Unmarshal(r, &e); err == nil && strings.TrimSpace(e.Allergen) != "" {
			e.Allergen = strings.TrimSpace(e.Allergen)
			entries = append(entries, e)
			continue
		}
		var name string
		if err := json.Unmarshal(r, &name); err == nil && strings.TrimSpace(name) != "" {
			entries = append(entries, AllergenEntry{Allergen: strings.TrimSpace(name)})
		}
	}
	l.Entries = entries
	return nil
}

func (l AllergenList) MarshalJSON() ([]byte, error) {
	if len(l.Entries) > 0 {
		return json.Marshal(l.Entries)
	}
	if l.Raw != "" {
		return json.Marshal(l.Raw)
	}
	return json.Marshal(noneSentinel)
}

// Detected reports whether the record carries at least one allergen.
func (l AllergenList) Detected() bool {
	if len(l.Entries) > 0 {
		return true
	}
	return l.Raw != "" && !strings.EqualFold(l.Raw, noneSentinel)
}

// Display renders the list the way the dashboard table shows it.
func (l AllergenList) Display() string {
	if !l.Detected() {
		return "Tidak terdeteksi"
	}
	if len(l.Entries) > 0 {
		names := make([]string, len(l.Entries))
		for i, e := range l.Entries {
			names[i] = e.Allergen
		}
		return strings.Join(names, ", ")
	}
	return l.Raw
}

// Names returns the individual allergen names, trimmed, with empty
// tokens dropped. A plain display string is split on commas.
func (l AllergenList) Names() []string {
	if !l.Detected() {
		return nil
	}
	if len(l.Entries) > 0 {
		names := make([]string, 0, len(l.Entries))
		for _, e := range l.Entries {
			if n := strings.TrimSpace(e.Allergen); n != "" {
				names = append(names, n)
			}
		}
		return names
	}
	var names []string
	for _, part := range strings.Split(l.Raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// PredictionRecord is one row of historical classifier output. Field
// pairs like product_name/nama_produk exist because the two backend
// generations disagree on naming; use the accessor methods.
type PredictionRecord struct {
	ID                int64        `json:"id"`
	ProductName       string       `json:"product_name"`
	NamaProduk        string       `json:"nama_produk,omitempty"`
	Ingredients       string       `json:"ingredients"`
	BahanUtama        string       `json:"bahan_utama"`
	Pemanis           string       `json:"pemanis"`
	LemakMinyak       string       `json:"lemak_minyak"`
	PenyedapRasa      string       `json:"penyedap_rasa"`
	DetectedAllergens AllergenList `json:"detected_allergens"`
	ConfidenceScore   Confidence   `json:"confidence_score"`
	RiskLevel         string       `json:"risk_level"`
	StatusAlergen     string       `json:"status_alergen"`
	DetectionStatus   string       `json:"detection_status,omitempty"`
	CreatedAt         FlexTime     `json:"created_at"`
	Timestamp         FlexTime     `json:"timestamp,omitempty"`
}

// Name returns the product name regardless of which backend generation
// produced the record.
func (r *PredictionRecord) Name() string {
	if r.ProductName != "" {
		return r.ProductName
	}
	return r.NamaProduk
}

// Status returns the detection status label, empty when the backend sent
// neither variant.
func (r *PredictionRecord) Status() string {
	if r.StatusAlergen != "" {
		return r.StatusAlergen
	}
	return r.DetectionStatus
}

// Created returns the record timestamp, falling back to the legacy
// "timestamp" field.
func (r *PredictionRecord) Created() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt.Time
	}
	return r.Timestamp.Time
}

// PageResult describes one page window as reported by the backend.
type PageResult struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalItems   int  `json:"total_items"`
	ItemsPerPage int  `json:"items_per_page"`
	HasMore      bool `json:"has_more"`
	HasPrevious  bool `json:"has_previous"`
}

// Normalize repairs the window so its invariants hold. The backend's
// has_more/has_previous booleans have drifted between deployments, so
// they are recomputed from the counts rather than trusted.
func (p *PageResult) Normalize() {
	if p.ItemsPerPage < 1 {
		p.ItemsPerPage = 1
	}
	if p.TotalItems < 0 {
		p.TotalItems = 0
	}
	if p.TotalPages < 1 {
		p.TotalPages = (p.TotalItems + p.ItemsPerPage - 1) / p.ItemsPerPage
		if p.TotalPages < 1 {
			p.TotalPages = 1
		}
	}
	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	if p.CurrentPage > p.TotalPages {
		p.CurrentPage = p.TotalPages
	}
	p.HasMore = p.CurrentPage < p.TotalPages
	p.HasPrevious = p.CurrentPage > 1
}

// Page is the canonical shape of GET /api/v1/dataset/predictions after
// envelope normalization.
type Page struct {
	Records    []PredictionRecord `json:"predictions"`
	Pagination PageResult         `json:"pagination"`
	Statistics *BackendStatistics `json:"statistics,omitempty"`
}

// BackendStatistics is the shape of GET /api/v1/dataset/statistics.
type BackendStatistics struct {
	Overview  StatsOverview `json:"overview"`
	ChartData ChartData     `json:"chart_data"`
}

// StatsOverview holds the headline numbers of the statistics endpoint.
type StatsOverview struct {
	TotalPredictions  int     `json:"total_predictions"`
	AverageConfidence float64 `json:"average_confidence"`
	DetectionRate     float64 `json:"detection_rate"`
}

// ChartData holds the pre-bucketed chart series of the statistics endpoint.
type ChartData struct {
	AllergensDistribution []NameCount  `json:"allergens_distribution"`
	DetectionPie          []NameCount  `json:"detection_pie"`
	RiskDistribution      []LevelCount `json:"risk_distribution"`
}

// NameCount is one labelled bucket in a chart series.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LevelCount is one risk-level bucket.
type LevelCount struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

// PredictionRequest is the body for POST /api/v1/predict/.
type PredictionRequest struct {
	NamaProdukMakanan string `json:"nama_produk_makanan"`
	BahanUtama        string `json:"bahan_utama,omitempty"`
	Pemanis           string `json:"pemanis"`
	LemakMinyak       string `json:"lemak_minyak"`
	PenyedapRasa      string `json:"penyedap_rasa"`
}

// PredictionResult is the classifier's answer for one submission.
type PredictionResult struct {
	Success                bool            `json:"success"`
	ProductName            string          `json:"product_name,omitempty"`
	DetectedAllergens      []AllergenEntry `json:"detected_allergens"`
	TotalAllergensDetected int             `json:"total_allergens_detected"`
	OverallRisk            string          `json:"overall_risk"`
	OverallConfidence      Confidence      `json:"overall_confidence"`
	ProcessingTimeMs       float64         `json:"processing_time_ms"`
	Timestamp              FlexTime        `json:"timestamp,omitempty"`
}

// HealthStatus is the response of GET /api/v1/health.
type HealthStatus struct {
	Status      string `json:"status"`
	Service     string `json:"service,omitempty"`
	Version     string `json:"version,omitempty"`
	ModelLoaded bool   `json:"model_loaded,omitempty"`
}

// unwrap peels the single-level {"data": {...}} envelope that newer
// backend deployments add and older ones omit, so callers only ever see
// the canonical payload.
func unwrap(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
			return d
		}
	}
	return body
}
