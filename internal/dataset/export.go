package dataset

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

// datasetHeaders mirrors the column titles of the backend's own Excel
// export so a locally built workbook is a drop-in replacement.
var datasetHeaders = []string{
	"No",
	"Nama Produk",
	"Bahan Utama",
	"Pemanis",
	"Lemak/Minyak",
	"Penyedap Rasa",
	"Alergen Terdeteksi",
	"Tingkat Kepercayaan (%)",
	"Tingkat Risiko",
	"Tanggal Prediksi",
}

// WriteWorkbook builds the dataset workbook locally from fetched records
// instead of round-tripping through the backend's slow export endpoint.
// It writes a Dataset sheet plus a Statistik summary sheet when stats is
// non-nil.
func WriteWorkbook(records []allerscan.PredictionRecord, stats *Statistics, path string) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Dataset")
	if err != nil {
		return eris.Wrap(err, "dataset: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range datasetHeaders {
		header.AddCell().Value = h
	}

	for i, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().Value = r.Name()
		row.AddCell().Value = r.BahanUtama
		row.AddCell().Value = r.Pemanis
		row.AddCell().Value = r.LemakMinyak
		row.AddCell().Value = r.PenyedapRasa
		row.AddCell().Value = r.DetectedAllergens.Display()
		row.AddCell().SetFloatWithFormat(r.ConfidenceScore.Percent(), "0.00")
		risk := r.RiskLevel
		if risk == "" {
			risk = "none"
		}
		row.AddCell().Value = risk
		if created := r.Created(); !created.IsZero() {
			row.AddCell().Value = created.Format("2006-01-02 15:04:05")
		} else {
			row.AddCell().Value = ""
		}
	}

	if stats != nil {
		if err := addStatsSheet(f, stats); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "dataset: save workbook")
	}
	return nil
}

func addStatsSheet(f *xlsx.File, stats *Statistics) error {
	sheet, err := f.AddSheet("Statistik")
	if err != nil {
		return eris.Wrap(err, "dataset: add stats sheet")
	}

	addPair := func(label string, set func(*xlsx.Cell)) {
		row := sheet.AddRow()
		row.AddCell().Value = label
		set(row.AddCell())
	}

	addPair("Total Prediksi", func(c *xlsx.Cell) { c.SetInt(stats.Total) })
	addPair("Kepercayaan Rata-rata (%)", func(c *xlsx.Cell) { c.SetFloatWithFormat(stats.AverageConfidence, "0.00") })
	addPair("Aktivitas 7 Hari", func(c *xlsx.Cell) { c.SetInt(stats.RecentActivity) })
	addPair("Jenis Alergen", func(c *xlsx.Cell) { c.SetInt(len(stats.AllergenBreakdown)) })

	addBreakdown(sheet, "Status Alergen", stats.StatusBreakdown)
	addBreakdown(sheet, "Alergen Terdeteksi", stats.AllergenBreakdown)
	addBreakdown(sheet, "Bahan Utama", stats.BahanUtamaBreakdown)
	addBreakdown(sheet, "Pemanis", stats.PemanisBreakdown)
	addBreakdown(sheet, "Lemak & Minyak", stats.LemakMinyakBreakdown)
	addBreakdown(sheet, "Penyedap Rasa", stats.PenyedapRasaBreakdown)

	return nil
}

// addBreakdown appends one breakdown section, highest count first with
// name as the tiebreak so the sheet is deterministic.
func addBreakdown(sheet *xlsx.Sheet, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}

	sheet.AddRow()
	titleRow := sheet.AddRow()
	titleRow.AddCell().Value = title

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		row := sheet.AddRow()
		row.AddCell().Value = name
		row.AddCell().SetInt(counts[name])
	}
}
