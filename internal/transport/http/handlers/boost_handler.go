package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	"github.com/tribalmingle/boost-auction/internal/pkg/validate"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	authsvc "github.com/tribalmingle/boost-auction/internal/services/auth"
	bidssvc "github.com/tribalmingle/boost-auction/internal/services/bids"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
	"github.com/tribalmingle/boost-auction/internal/transport/http/dto"
	httperrors "github.com/tribalmingle/boost-auction/internal/transport/http/errors"
)

type BoostHandler struct {
	service *bidssvc.Service
}

func NewBoostHandler(service *bidssvc.Service) *BoostHandler {
	return &BoostHandler{service: service}
}

// Window serves GET /boosts/window: the member view of one market.
func (h *BoostHandler) Window(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if h.service == nil {
		writeInternal(w, "Boost service is unavailable")
		return
	}

	locale := strings.TrimSpace(r.URL.Query().Get("locale"))
	placement := enums.Placement(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("placement"))))

	snapshot, err := h.service.GetSnapshot(r.Context(), identity.UserID, locale, placement)
	if err != nil {
		switch {
		case errors.Is(err, windowssvc.ErrAuctionDisabled):
			writeAuctionDisabled(w)
		case errors.Is(err, bidssvc.ErrValidation):
			writeBadRequest(w, "locale and placement are required")
		default:
			writeInternal(w, "Failed to load auction window")
		}
		return
	}

	resp := dto.BoostWindowResponse{
		Success:    true,
		Window:     snapshot.Window,
		NextWindow: snapshot.NextWindow,
		Credits:    snapshot.Credits,
		Bids: dto.BoostBidsSection{
			Active:  mapBids(snapshot.Active),
			History: mapBids(snapshot.History),
		},
	}
	if snapshot.Pending != nil {
		pending := mapBid(*snapshot.Pending)
		resp.Bids.Pending = &pending
	}
	if snapshot.NextPending != nil {
		nextPending := mapBid(*snapshot.NextPending)
		resp.Bids.NextPending = &nextPending
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// Submit serves POST /boosts/bid.
func (h *BoostHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if h.service == nil {
		writeInternal(w, "Boost service is unavailable")
		return
	}

	var req dto.SubmitBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if !validate.Required(req.Locale) || !validate.Required(req.Placement) || req.BidAmountCredits <= 0 {
		writeBadRequest(w, "locale, placement and bidAmountCredits are required")
		return
	}

	result, err := h.service.Submit(r.Context(), bidssvc.SubmitInput{
		UserID:       identity.UserID,
		Locale:       req.Locale,
		Placement:    enums.Placement(strings.ToLower(strings.TrimSpace(req.Placement))),
		Amount:       req.BidAmountCredits,
		AutoRollover: req.AutoRollover,
	})
	if err != nil {
		if tooFast, ok := bidssvc.IsTooFast(err); ok {
			writeTooFast(w, tooFast.RetryAfter())
			return
		}
		if tooLow, ok := bidssvc.IsBidTooLow(err); ok {
			writeBadRequest(w, fmt.Sprintf("Bid below minimum of %d credits", tooLow.MinBidCredits))
			return
		}
		switch {
		case errors.Is(err, windowssvc.ErrAuctionDisabled):
			writeAuctionDisabled(w)
		case errors.Is(err, bidssvc.ErrInsufficientCredits):
			writeBadRequest(w, "Insufficient credits")
		case errors.Is(err, bidssvc.ErrValidation):
			writeBadRequest(w, "Invalid bid request")
		case errors.Is(err, pgrepo.ErrDuplicateBid):
			httperrors.WriteError(w, http.StatusConflict, "Bid already exists for this window")
		default:
			writeInternal(w, "Failed to place bid")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SubmitBidResponse{
		Success:  true,
		Bid:      mapBid(result.Bid),
		Replaced: result.Replaced,
		Window:   result.Window,
	})
}

// Cancel serves DELETE /boosts/bid/{sessionID}.
func (h *BoostHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if h.service == nil {
		writeInternal(w, "Boost service is unavailable")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeBadRequest(w, "Invalid session id")
		return
	}

	if err := h.service.Cancel(r.Context(), identity.UserID, sessionID); err != nil {
		switch {
		case errors.Is(err, bidssvc.ErrBidNotFound):
			httperrors.WriteError(w, http.StatusNotFound, "Bid not found")
		case errors.Is(err, bidssvc.ErrBidNotCancelable):
			httperrors.WriteError(w, http.StatusConflict, "Bid is not cancelable")
		case errors.Is(err, bidssvc.ErrValidation):
			writeBadRequest(w, "Invalid cancel request")
		default:
			writeInternal(w, "Failed to cancel bid")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CancelBidResponse{Success: true})
}
