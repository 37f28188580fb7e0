package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"yam-indexer/internal/report"
	"yam-indexer/internal/store"
)

// storedLayout is the datetime format of persisted event timestamps.
const storedLayout = "2006-01-02 15:04:05"

type generateReportRequest struct {
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	EventType       []string `json:"event_type"`
	UserAddresses   []string `json:"user_addresses"`
	DisplayTxColumn *bool    `json:"display_tx_column"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lastIndexed, ok, err := s.store.LastIndexedBlock(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ranges, err := s.store.WatermarkRanges(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"last_indexed_block": lastIndexed,
		"initialized":        ok,
		"watermark_ranges":   ranges,
		"catalog_tokens":     s.catalog.Len(),
	})
}

// handleGenerateReport validates the request, pulls the wallet's accepted
// offers for both roles, and streams the rendered PDF back.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.StartDate == "" || req.EndDate == "" || req.EventType == nil || req.UserAddresses == nil || req.DisplayTxColumn == nil {
		httpError(w, http.StatusBadRequest, "missing required field: start_date, end_date, event_type, user_addresses and display_tx_column are all required")
		return
	}

	start, err := parseISO(req.StartDate)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid date format, use ISO datetime format")
		return
	}
	end, err := parseISO(req.EndDate)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid date format, use ISO datetime format")
		return
	}

	sections := make([]report.TxType, 0, len(req.EventType))
	for _, kind := range req.EventType {
		switch strings.ToLower(kind) {
		case "buy":
			sections = append(sections, report.TxBuy)
		case "sell":
			sections = append(sections, report.TxSell)
		case "exchange":
			sections = append(sections, report.TxExchange)
		default:
			httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown event_type %q", kind))
			return
		}
	}

	addresses := make([]string, 0, len(req.UserAddresses))
	for _, addr := range req.UserAddresses {
		if !common.IsHexAddress(addr) {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid address: %s", addr))
			return
		}
		addresses = append(addresses, common.HexToAddress(addr).Hex())
	}

	s.log.Infof("report requested for %d address(es) between %s and %s", len(addresses), req.StartDate, req.EndDate)

	tFrom := start.Format(storedLayout)
	tTo := end.Format(storedLayout)

	eventsSeller, err := s.store.AcceptedOffers(r.Context(), store.RoleSeller, addresses, tFrom, tTo)
	if err != nil {
		s.log.Errorf("seller query failed: %v", err)
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}
	eventsBuyer, err := s.store.AcceptedOffers(r.Context(), store.RoleBuyer, addresses, tFrom, tTo)
	if err != nil {
		s.log.Errorf("buyer query failed: %v", err)
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rep := report.Build(
		addresses,
		formatDisplayDate(start),
		formatDisplayDate(end),
		eventsBuyer,
		eventsSeller,
		s.contracts,
		s.catalog,
	)

	pdf, err := report.RenderPDF(rep, sections, *req.DisplayTxColumn)
	if err != nil {
		s.log.Errorf("PDF rendering failed: %v", err)
		httpError(w, http.StatusInternalServerError, "report rendering failed")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="yam_report.pdf"`)
	w.Write(pdf)
}

func parseISO(value string) (time.Time, error) {
	value = strings.Replace(value, "Z", "+00:00", 1)
	for _, layout := range []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", value)
}

func formatDisplayDate(t time.Time) string {
	return strings.TrimPrefix(t.Format("2 January 2006"), "0")
}

func httpError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
