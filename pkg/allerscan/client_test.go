package allerscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	return srv, c
}

func TestFetchPage(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		page        int
		pageSize    int
		wantErr     bool
		wantKind    Kind
		wantRecords int
		wantWindow  PageResult
	}{
		{
			name: "bare payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/v1/dataset/predictions", r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("page"))
				assert.Equal(t, "20", r.URL.Query().Get("page_size"))
				assert.Equal(t, "false", r.URL.Query().Get("include_stats"))

				fmt.Fprint(w, `{
					"predictions": [
						{"id": 1, "product_name": "Biskuit", "confidence_score": 0.92},
						{"id": 2, "product_name": "Roti", "confidence_score": 88.1}
					],
					"pagination": {"current_page": 2, "total_pages": 3, "total_items": 45, "items_per_page": 20}
				}`)
			},
			page:        2,
			pageSize:    20,
			wantRecords: 2,
			wantWindow:  PageResult{CurrentPage: 2, TotalPages: 3, TotalItems: 45, ItemsPerPage: 20, HasMore: true, HasPrevious: true},
		},
		{
			name: "enveloped payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data": {
					"predictions": [{"id": 7, "nama_produk": "Keripik"}],
					"pagination": {"current_page": 1, "total_pages": 1, "total_items": 1, "items_per_page": 20}
				}}`)
			},
			page:        1,
			pageSize:    20,
			wantRecords: 1,
			wantWindow:  PageResult{CurrentPage: 1, TotalPages: 1, TotalItems: 1, ItemsPerPage: 20},
		},
		{
			name: "missing pagination is synthesized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"predictions": [{"id": 1}, {"id": 2}, {"id": 3}]}`)
			},
			page:        1,
			pageSize:    10,
			wantRecords: 3,
			wantWindow:  PageResult{CurrentPage: 1, TotalPages: 1, TotalItems: 3, ItemsPerPage: 10},
		},
		{
			name: "lying has_more flag is repaired",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{
					"predictions": [{"id": 1}],
					"pagination": {"current_page": 1, "total_pages": 4, "total_items": 61, "items_per_page": 20, "has_more": false, "has_previous": true}
				}`)
			},
			page:        1,
			pageSize:    20,
			wantRecords: 1,
			wantWindow:  PageResult{CurrentPage: 1, TotalPages: 4, TotalItems: 61, ItemsPerPage: 20, HasMore: true, HasPrevious: false},
		},
		{
			name: "server error carries backend detail",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"detail": "database is locked"}`)
			},
			page:     1,
			pageSize: 20,
			wantErr:  true,
			wantKind: KindServer,
		},
		{
			name:     "page below one is rejected locally",
			handler:  func(w http.ResponseWriter, r *http.Request) { t.Error("request should not reach the server") },
			page:     0,
			pageSize: 20,
			wantErr:  true,
			wantKind: KindValidation,
		},
		{
			name:     "page size below one is rejected locally",
			handler:  func(w http.ResponseWriter, r *http.Request) { t.Error("request should not reach the server") },
			page:     1,
			pageSize: 0,
			wantErr:  true,
			wantKind: KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, tt.handler)

			p, err := c.FetchPage(context.Background(), tt.page, tt.pageSize, false)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, p.Records, tt.wantRecords)
			assert.Equal(t, tt.wantWindow, p.Pagination)
		})
	}
}

func TestFetchPageErrorDetail(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail": "model not loaded"}`)
	})

	_, err := c.FetchPage(context.Background(), 1, 20, false)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "model not loaded", apiErr.Detail)
}

func TestFetchPageTimeout(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"predictions": []}`)
	}, WithTimeout(20*time.Millisecond))

	_, err := c.FetchPage(context.Background(), 1, 20, false)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsNetwork(err))
}

func TestFetchPageNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(WithBaseURL(srv.URL))

	_, err := c.FetchPage(context.Background(), 1, 20, false)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.False(t, IsTimeout(err))
}

func TestFetchStatistics(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dataset/statistics", r.URL.Path)
		fmt.Fprint(w, `{"data": {
			"overview": {"total_predictions": 150, "average_confidence": 87.5, "detection_rate": 62.0},
			"chart_data": {
				"allergens_distribution": [{"name": "susu", "count": 40}],
				"risk_distribution": [{"level": "high", "count": 12}]
			}
		}}`)
	})

	stats, err := c.FetchStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 150, stats.Overview.TotalPredictions)
	assert.InDelta(t, 87.5, stats.Overview.AverageConfidence, 1e-9)
	require.Len(t, stats.ChartData.AllergensDistribution, 1)
	assert.Equal(t, "susu", stats.ChartData.AllergensDistribution[0].Name)
}

func TestDeleteRecord(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotPath string
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, c.DeleteRecord(context.Background(), 42))
		assert.Equal(t, "/api/v1/dataset/predictions/42", gotPath)
	})

	t.Run("missing record", func(t *testing.T) {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"detail": "Prediction not found"}`)
		})

		err := c.DeleteRecord(context.Background(), 9999)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Prediction not found", apiErr.Detail)
	})
}

func TestPredict(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/predict/", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req PredictionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Biskuit Coklat", req.NamaProdukMakanan)

			fmt.Fprint(w, `{
				"success": true,
				"detected_allergens": [{"allergen": "susu", "confidence": 0.91, "risk_level": "high"}],
				"total_allergens_detected": 1,
				"overall_risk": "high",
				"overall_confidence": 0.91
			}`)
		})

		res, err := c.Predict(context.Background(), PredictionRequest{
			NamaProdukMakanan: "Biskuit Coklat",
			Pemanis:           "gula",
			LemakMinyak:       "mentega",
			PenyedapRasa:      "vanili",
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		require.Len(t, res.DetectedAllergens, 1)
		assert.Equal(t, "susu", res.DetectedAllergens[0].Allergen)
		assert.InDelta(t, 91.0, res.OverallConfidence.Percent(), 1e-9)
	})

	t.Run("missing fields rejected locally", func(t *testing.T) {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not reach the server")
		})

		_, err := c.Predict(context.Background(), PredictionRequest{NamaProdukMakanan: "Roti"})
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.Contains(t, err.Error(), "pemanis")
		assert.Contains(t, err.Error(), "lemak_minyak")
		assert.Contains(t, err.Error(), "penyedap_rasa")
	})
}

func TestHealth(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		fmt.Fprint(w, `{"data": {"status": "healthy", "model_loaded": true}}`)
	})

	hs, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", hs.Status)
	assert.True(t, hs.ModelLoaded)
}

func TestExportExcel(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		blob := []byte("PK\x03\x04 not a real workbook")
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/dataset/export/excel", r.URL.Path)
			assert.Equal(t, "500", r.URL.Query().Get("limit"))
			assert.Equal(t, SpreadsheetMIME, r.Header.Get("Accept"))
			w.Header().Set("Content-Type", SpreadsheetMIME)
			w.Write(blob)
		})

		data, err := c.ExportExcel(context.Background(), 500)
		require.NoError(t, err)
		assert.Equal(t, blob, data)
	})

	t.Run("limit below one rejected locally", func(t *testing.T) {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not reach the server")
		})

		_, err := c.ExportExcel(context.Background(), 0)
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestFetchAll(t *testing.T) {
	// 45 records served in pages of 20
	serve := func(t *testing.T, total int, maxPage *atomic.Int64) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			page, err := strconv.Atoi(r.URL.Query().Get("page"))
			require.NoError(t, err)
			size, err := strconv.Atoi(r.URL.Query().Get("page_size"))
			require.NoError(t, err)
			for {
				seen := maxPage.Load()
				if int64(page) <= seen || maxPage.CompareAndSwap(seen, int64(page)) {
					break
				}
			}

			start := (page - 1) * size
			end := start + size
			if end > total {
				end = total
			}
			recs := make([]map[string]any, 0, size)
			for id := start + 1; id <= end; id++ {
				recs = append(recs, map[string]any{"id": id, "product_name": fmt.Sprintf("produk-%d", id)})
			}
			totalPages := (total + size - 1) / size
			json.NewEncoder(w).Encode(map[string]any{
				"predictions": recs,
				"pagination": map[string]any{
					"current_page":   page,
					"total_pages":    totalPages,
					"total_items":    total,
					"items_per_page": size,
				},
			})
		}
	}

	t.Run("walks every page in order", func(t *testing.T) {
		var maxPage atomic.Int64
		_, c := newTestServer(t, serve(t, 45, &maxPage), WithBulkPageSize(20))

		records, err := c.FetchAll(context.Background(), 1000)
		require.NoError(t, err)
		require.Len(t, records, 45)
		for i, r := range records {
			assert.Equal(t, int64(i+1), r.ID)
		}
		assert.Equal(t, int64(3), maxPage.Load())
	})

	t.Run("stops at maxRecords", func(t *testing.T) {
		var maxPage atomic.Int64
		_, c := newTestServer(t, serve(t, 100, &maxPage), WithBulkPageSize(20))

		records, err := c.FetchAll(context.Background(), 30)
		require.NoError(t, err)
		require.Len(t, records, 30)
		assert.Equal(t, int64(30), records[29].ID)
		// pages past the cutoff are never requested
		assert.Equal(t, int64(2), maxPage.Load())
	})

	t.Run("single page short circuits", func(t *testing.T) {
		var maxPage atomic.Int64
		_, c := newTestServer(t, serve(t, 8, &maxPage), WithBulkPageSize(20))

		records, err := c.FetchAll(context.Background(), 1000)
		require.NoError(t, err)
		assert.Len(t, records, 8)
		assert.Equal(t, int64(1), maxPage.Load())
	})

	t.Run("page failure fails the walk", func(t *testing.T) {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") != "1" {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"detail": "boom"}`)
				return
			}
			fmt.Fprint(w, `{
				"predictions": [{"id": 1}],
				"pagination": {"current_page": 1, "total_pages": 5, "total_items": 90, "items_per_page": 20}
			}`)
		}, WithBulkPageSize(20))

		_, err := c.FetchAll(context.Background(), 1000)
		require.Error(t, err)
		assert.Equal(t, KindServer, KindOf(err))
	})
}
