package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gbabichev/Twinalyzer-sub001/internal/config"
	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
)

// ScanHandler runs scans on behalf of API clients.
type ScanHandler struct {
	config  *config.Config
	scanner *scan.Scanner
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(cfg *config.Config, scanner *scan.Scanner) *ScanHandler {
	return &ScanHandler{config: cfg, scanner: scanner}
}

// ScanRequest is the body for POST /scan and POST /export. Unset fields fall
// back to the server configuration.
type ScanRequest struct {
	Roots             []string `json:"roots"`
	Threshold         *float64 `json:"threshold,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	TopLevelOnly      *bool    `json:"top_level_only,omitempty"`
	IgnoredFolderName *string  `json:"ignored_folder_name,omitempty"`
}

// ScanResponse carries the grouped results, the flattened table view, and
// scan statistics.
type ScanResponse struct {
	Results []report.Result   `json:"results"`
	Rows    []report.TableRow `json:"rows"`
	Stats   scan.Stats        `json:"stats"`
}

func (h *ScanHandler) buildConfig(req ScanRequest) (scan.Config, error) {
	cfg := scan.Config{
		Threshold:         h.config.Scan.Threshold,
		TopLevelOnly:      h.config.Scan.TopLevelOnly,
		IgnoredFolderName: h.config.Scan.IgnoredFolderName,
		MaxLeaves:         h.config.Scan.MaxLeaves,
		Workers:           h.config.Scan.Workers,
	}

	modeName := req.Mode
	if modeName == "" {
		modeName = h.config.Scan.Mode
	}
	mode, err := scan.ParseMode(modeName)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	if req.Threshold != nil {
		if *req.Threshold < 0 || *req.Threshold > 1 {
			return cfg, fmt.Errorf("threshold %v out of range [0, 1]", *req.Threshold)
		}
		cfg.Threshold = *req.Threshold
	}
	if req.TopLevelOnly != nil {
		cfg.TopLevelOnly = *req.TopLevelOnly
	}
	if req.IgnoredFolderName != nil {
		cfg.IgnoredFolderName = *req.IgnoredFolderName
	}
	return cfg, nil
}

func (h *ScanHandler) runScan(w http.ResponseWriter, r *http.Request) ([]report.Result, bool) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if len(req.Roots) == 0 {
		writeError(w, http.StatusBadRequest, "at least one root folder is required")
		return nil, false
	}
	for _, root := range req.Roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			writeError(w, http.StatusBadRequest, "not a directory: "+root)
			return nil, false
		}
	}

	cfg, err := h.buildConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	results, err := h.scanner.Run(r.Context(), req.Roots, cfg, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return nil, false
	}
	return results, true
}

// Scan runs a scan and returns grouped results as JSON.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{
		Results: results,
		Rows:    report.Flatten(results),
		Stats:   h.scanner.Stats(),
	})
}

// Export runs a scan and streams the flattened rows as CSV.
func (h *ScanHandler) Export(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runScan(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="twinalyzer.csv"`)
	if err := report.WriteCSV(w, report.Flatten(results)); err != nil {
		// Headers are already sent; nothing useful left to do.
		return
	}
}
