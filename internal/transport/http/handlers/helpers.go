package handlers

import (
	"encoding/json"
	"net/http"

	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	"github.com/tribalmingle/boost-auction/internal/transport/http/dto"
	httperrors "github.com/tribalmingle/boost-auction/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	httperrors.WriteError(w, http.StatusBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter) {
	httperrors.WriteError(w, http.StatusUnauthorized, "Unauthorized")
}

func writeInternal(w http.ResponseWriter, message string) {
	httperrors.WriteError(w, http.StatusInternalServerError, message)
}

// writeAuctionDisabled is the soft disabled-market condition: HTTP 200 with
// success=false, so clients render an empty auction instead of an error state.
func writeAuctionDisabled(w http.ResponseWriter) {
	httperrors.WriteError(w, http.StatusOK, "Auction disabled for locale")
}

func writeTooFast(w http.ResponseWriter, retryAfterSec int64) {
	httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitResponse{
		Success:       false,
		Error:         "Too fast",
		RetryAfterSec: retryAfterSec,
	})
}

func mapBid(rec pgrepo.BidRecord) dto.BidResponse {
	return dto.BidResponse{
		SessionID:        rec.SessionID.String(),
		Locale:           rec.Locale,
		Placement:        string(rec.Placement),
		WindowStart:      rec.WindowStart,
		BidAmountCredits: rec.Amount,
		Status:           string(rec.Status),
		AutoRollover:     rec.AutoRollover,
		RolloverCount:    rec.RolloverCount,
		CreatedAt:        rec.CreatedAt,
		StartedAt:        rec.StartedAt,
		EndsAt:           rec.EndsAt,
	}
}

func mapBids(records []pgrepo.BidRecord) []dto.BidResponse {
	out := make([]dto.BidResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, mapBid(rec))
	}
	return out
}
