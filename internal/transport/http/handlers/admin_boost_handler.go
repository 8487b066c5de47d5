package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	"github.com/tribalmingle/boost-auction/internal/pkg/validate"
	auctionsvc "github.com/tribalmingle/boost-auction/internal/services/auction"
	bidssvc "github.com/tribalmingle/boost-auction/internal/services/bids"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
	"github.com/tribalmingle/boost-auction/internal/transport/http/dto"
	httperrors "github.com/tribalmingle/boost-auction/internal/transport/http/errors"
)

type AdminBoostHandler struct {
	bids    *bidssvc.Service
	auction *auctionsvc.Service
}

func NewAdminBoostHandler(bids *bidssvc.Service, auction *auctionsvc.Service) *AdminBoostHandler {
	return &AdminBoostHandler{bids: bids, auction: auction}
}

// Window serves GET /boosts/admin/window: the full market board.
func (h *AdminBoostHandler) Window(w http.ResponseWriter, r *http.Request) {
	if h.bids == nil {
		writeInternal(w, "Boost service is unavailable")
		return
	}

	locale := strings.TrimSpace(r.URL.Query().Get("locale"))
	placement := enums.Placement(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("placement"))))

	board, err := h.bids.GetMarketBoard(r.Context(), locale, placement)
	if err != nil {
		switch {
		case errors.Is(err, windowssvc.ErrAuctionDisabled):
			writeAuctionDisabled(w)
		case errors.Is(err, bidssvc.ErrValidation):
			writeBadRequest(w, "locale and placement are required")
		default:
			writeInternal(w, "Failed to load market board")
		}
		return
	}

	resp := dto.AdminWindowResponse{
		Success:    true,
		Window:     board.Window,
		NextWindow: board.NextWindow,
		Pending:    mapBids(board.Pending),
		Active:     mapBids(board.Active),
	}
	if board.LastResolved != nil {
		resp.LastResolved = &dto.ResolvedWindow{
			WindowStart: board.LastResolved.WindowStart,
			ResolvedAt:  board.LastResolved.ResolvedAt,
			Trigger:     string(board.LastResolved.Trigger),
		}
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// ForceClear serves POST /boosts/admin/window: resolve the accepting window
// ahead of its cutoff.
func (h *AdminBoostHandler) ForceClear(w http.ResponseWriter, r *http.Request) {
	if h.auction == nil {
		writeInternal(w, "Auction service is unavailable")
		return
	}

	var req dto.ForceClearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if !validate.Required(req.Locale) || !validate.Required(req.Placement) {
		writeBadRequest(w, "locale and placement are required")
		return
	}

	outcome, err := h.auction.ForceClear(r.Context(), req.Locale, enums.Placement(strings.ToLower(strings.TrimSpace(req.Placement))))
	if err != nil {
		switch {
		case errors.Is(err, windowssvc.ErrAuctionDisabled):
			writeAuctionDisabled(w)
		case errors.Is(err, auctionsvc.ErrValidation):
			writeBadRequest(w, "Invalid force-clear request")
		default:
			writeInternal(w, "Failed to force-clear window")
		}
		return
	}

	winners := make([]string, 0, len(outcome.Winners))
	for _, id := range outcome.Winners {
		winners = append(winners, id.String())
	}

	httperrors.Write(w, http.StatusOK, dto.ForceClearResponse{
		Success: true,
		Result: dto.ForceClearResult{
			WindowStart:     outcome.Key.WindowStart,
			ResolvedAt:      outcome.ResolvedAt,
			AlreadyResolved: outcome.AlreadyResolved,
			Winners:         winners,
			Refunded:        outcome.Refunded,
			RolledOver:      outcome.RolledOver,
			Anomalies:       outcome.Anomalies,
		},
	})
}

// GrantCredits serves POST /boosts/admin/credits.
func (h *AdminBoostHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	if h.bids == nil {
		writeInternal(w, "Boost service is unavailable")
		return
	}

	var req dto.GrantCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID <= 0 || req.Credits <= 0 {
		writeBadRequest(w, "userId and credits must be positive")
		return
	}

	balance, err := h.bids.GrantCredits(r.Context(), req.UserID, req.Credits)
	if err != nil {
		switch {
		case errors.Is(err, bidssvc.ErrValidation):
			writeBadRequest(w, "Invalid grant request")
		default:
			writeInternal(w, "Failed to grant credits")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.GrantCreditsResponse{
		Success: true,
		UserID:  req.UserID,
		Balance: balance,
	})
}
