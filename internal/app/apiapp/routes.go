package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tribalmingle/boost-auction/internal/config"
	auctionsvc "github.com/tribalmingle/boost-auction/internal/services/auction"
	authsvc "github.com/tribalmingle/boost-auction/internal/services/auth"
	bidssvc "github.com/tribalmingle/boost-auction/internal/services/bids"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
	"github.com/tribalmingle/boost-auction/internal/transport/http/handlers"
)

type Dependencies struct {
	BidService     *bidssvc.Service
	AuctionService *auctionsvc.Service
	Clock          *windowssvc.Clock
	JWTManager     *authsvc.JWTManager
	Logger         *zap.Logger
	Config         config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	boostHandler := handlers.NewBoostHandler(deps.BidService)
	capabilitiesHandler := handlers.NewCapabilitiesHandler(deps.Clock)
	adminBoostHandler := handlers.NewAdminBoostHandler(deps.BidService, deps.AuctionService)

	authMW := AuthMiddleware(deps.JWTManager, deps.Logger)
	adminRoleMW := RequireRole(authsvc.RoleOwner, authsvc.RoleSupport)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/boosts", func(r chi.Router) {
		r.Get("/capabilities", capabilitiesHandler.Handle)
		r.With(authMW).Get("/window", boostHandler.Window)
		r.With(authMW).Post("/bid", boostHandler.Submit)
		r.With(authMW).Delete("/bid/{sessionID}", boostHandler.Cancel)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW, adminRoleMW)
			r.Get("/window", adminBoostHandler.Window)
			r.Post("/window", adminBoostHandler.ForceClear)
			r.Post("/credits", adminBoostHandler.GrantCredits)
		})
	})
}
