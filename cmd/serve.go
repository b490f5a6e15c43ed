package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superboost/allerscan-cli/internal/dataset"
	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the aggregated dataset view as a local JSON API",
	Long:  "Exposes the normalized dataset pages and the folded statistics over HTTP so a dashboard frontend can sit on top of them without talking to the backend's inconsistent envelopes directly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := newClient()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodDelete},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/dataset", func(w http.ResponseWriter, req *http.Request) {
			page := queryInt(req, "page", 1)
			pageSize := queryInt(req, "page_size", cfg.Dataset.PageSize)

			res, err := client.FetchPage(req.Context(), page, pageSize, false)
			if err != nil {
				writeError(w, err)
				return
			}
			records := dataset.FilterRecords(res.Records, req.URL.Query().Get("search"))
			writeJSON(w, http.StatusOK, map[string]any{
				"predictions": records,
				"pagination":  res.Pagination,
			})
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := dataset.BuildStatistics(req.Context(), client, nil, cfg.Dataset.MaxStatsRecords)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Delete("/dataset/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid record id"})
				return
			}
			if err := client.DeleteRecord(req.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting dashboard API", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func queryInt(req *http.Request, key string, fallback int) int {
	if v := req.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps the gateway taxonomy onto HTTP statuses for the local
// API's consumers.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch allerscan.KindOf(err) {
	case allerscan.KindTimeout:
		status = http.StatusGatewayTimeout
	case allerscan.KindNotFound:
		status = http.StatusNotFound
	case allerscan.KindValidation:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
