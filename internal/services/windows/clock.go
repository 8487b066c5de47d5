package windows

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/tribalmingle/boost-auction/internal/config"
	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	"github.com/tribalmingle/boost-auction/internal/domain/model"
	"github.com/tribalmingle/boost-auction/internal/domain/rules"
)

var (
	ErrAuctionDisabled = errors.New("auction disabled for locale")
	ErrInvalidMarket   = errors.New("invalid market")
)

// MarketParams is the fully resolved configuration for one (locale, placement)
// market: per-market overrides applied on top of the global auction defaults.
type MarketParams struct {
	Locale        string
	Placement     enums.Placement
	Cadence       time.Duration
	LeadTime      time.Duration
	BoostDuration time.Duration
	MinBidCredits int64
	MaxWinners    int
}

// Clock derives auction windows from wall time. It holds no state beyond
// configuration, so every caller sees the same boundaries for the same instant.
type Clock struct {
	cfg config.AuctionConfig
}

func NewClock(cfg config.AuctionConfig) *Clock {
	return &Clock{cfg: cfg}
}

// Market resolves the parameters for a locale/placement pair, or reports the
// market disabled when the locale is not onboarded or the placement is not
// sold there.
func (c *Clock) Market(locale string, placement enums.Placement) (MarketParams, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" || !placement.Valid() {
		return MarketParams{}, ErrInvalidMarket
	}

	for _, m := range c.cfg.Markets {
		if !strings.EqualFold(m.Locale, locale) {
			continue
		}
		for _, p := range m.Placements {
			if strings.EqualFold(p, string(placement)) {
				return c.resolve(locale, placement, m), nil
			}
		}
		break
	}

	return MarketParams{}, ErrAuctionDisabled
}

func (c *Clock) resolve(locale string, placement enums.Placement, m config.MarketConfig) MarketParams {
	params := MarketParams{
		Locale:        locale,
		Placement:     placement,
		Cadence:       c.cfg.Cadence,
		LeadTime:      c.cfg.LeadTime,
		BoostDuration: c.cfg.BoostDuration,
		MinBidCredits: c.cfg.MinBidCredits,
		MaxWinners:    c.cfg.MaxWinners,
	}
	if m.Cadence > 0 {
		params.Cadence = m.Cadence
	}
	if m.MinBidCredits > 0 {
		params.MinBidCredits = m.MinBidCredits
	}
	if m.MaxWinners > 0 {
		params.MaxWinners = m.MaxWinners
	}
	if params.Cadence <= 0 {
		params.Cadence = rules.DefaultCadence
	}
	if params.LeadTime <= 0 {
		params.LeadTime = rules.DefaultLeadTime
	}
	if params.BoostDuration <= 0 {
		params.BoostDuration = rules.DefaultBoostDuration
	}

	return params
}

// Fallback returns the global default parameters for a market that is not
// configured. Residue bids taken before a market was turned off still settle
// on these.
func (c *Clock) Fallback(locale string, placement enums.Placement) MarketParams {
	return c.resolve(strings.ToLower(strings.TrimSpace(locale)), placement, config.MarketConfig{})
}

// WindowAt returns the window whose cutoff is the next boundary strictly after
// at, i.e. the window currently accepting bids.
func (c *Clock) WindowAt(locale string, placement enums.Placement, at time.Time) (model.AuctionWindow, error) {
	params, err := c.Market(locale, placement)
	if err != nil {
		return model.AuctionWindow{}, err
	}

	return c.WindowForStart(params, rules.NextWindowStart(at, params.Cadence)), nil
}

// WindowForStart materializes the window for a given cutoff boundary.
func (c *Clock) WindowForStart(params MarketParams, windowStart time.Time) model.AuctionWindow {
	windowStart = windowStart.UTC()
	boostStart := windowStart.Add(params.LeadTime)

	return model.AuctionWindow{
		Locale:        params.Locale,
		Placement:     params.Placement,
		WindowStart:   windowStart,
		BoostStartsAt: boostStart,
		BoostEndsAt:   boostStart.Add(params.BoostDuration),
		MinBidCredits: params.MinBidCredits,
		MaxWinners:    params.MaxWinners,
	}
}

// Pair returns the accepting window and the one after it.
func (c *Clock) Pair(locale string, placement enums.Placement, at time.Time) (model.AuctionWindow, model.AuctionWindow, error) {
	params, err := c.Market(locale, placement)
	if err != nil {
		return model.AuctionWindow{}, model.AuctionWindow{}, err
	}

	current := c.WindowForStart(params, rules.NextWindowStart(at, params.Cadence))
	next := c.WindowForStart(params, current.WindowStart.Add(params.Cadence))

	return current, next, nil
}

// Markets lists every enabled (locale, placement) market, sorted for stable
// capability responses.
func (c *Clock) Markets() []MarketParams {
	var out []MarketParams
	for _, m := range c.cfg.Markets {
		locale := strings.ToLower(strings.TrimSpace(m.Locale))
		if locale == "" {
			continue
		}
		for _, p := range m.Placements {
			placement := enums.Placement(strings.ToLower(strings.TrimSpace(p)))
			if !placement.Valid() {
				continue
			}
			out = append(out, c.resolve(locale, placement, m))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Locale != out[j].Locale {
			return out[i].Locale < out[j].Locale
		}
		return out[i].Placement < out[j].Placement
	})

	return out
}
