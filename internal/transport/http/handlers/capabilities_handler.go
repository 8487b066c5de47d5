package handlers

import (
	"net/http"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
	"github.com/tribalmingle/boost-auction/internal/transport/http/dto"
	httperrors "github.com/tribalmingle/boost-auction/internal/transport/http/errors"
)

type CapabilitiesHandler struct {
	clock *windowssvc.Clock
}

func NewCapabilitiesHandler(clock *windowssvc.Clock) *CapabilitiesHandler {
	return &CapabilitiesHandler{clock: clock}
}

// Handle serves GET /boosts/capabilities: the enum surface clients share with
// the server plus every enabled market and its cadence parameters.
func (h *CapabilitiesHandler) Handle(w http.ResponseWriter, _ *http.Request) {
	if h.clock == nil {
		writeInternal(w, "Capabilities are unavailable")
		return
	}

	markets := h.clock.Markets()
	out := make([]dto.MarketCapability, 0, len(markets))
	for _, m := range markets {
		out = append(out, dto.MarketCapability{
			Locale:               m.Locale,
			Placement:            string(m.Placement),
			CadenceSeconds:       int64(m.Cadence.Seconds()),
			LeadTimeSeconds:      int64(m.LeadTime.Seconds()),
			BoostDurationSeconds: int64(m.BoostDuration.Seconds()),
			MinBidCredits:        m.MinBidCredits,
			MaxWinners:           m.MaxWinners,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.CapabilitiesResponse{
		Success: true,
		Placements: []string{
			string(enums.PlacementSpotlight),
			string(enums.PlacementTravel),
			string(enums.PlacementEvent),
		},
		BidStatuses: []string{
			string(enums.BidStatusPending),
			string(enums.BidStatusActive),
			string(enums.BidStatusExpired),
			string(enums.BidStatusRefunded),
			string(enums.BidStatusCleared),
		},
		Markets: out,
	})
}
