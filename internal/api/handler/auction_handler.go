package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionHandler serves auction creation, reads and cancellation.
type AuctionHandler struct {
	auctionSvc *service.AuctionService
	cfg        config.AuctionConfig
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctionSvc *service.AuctionService, cfg config.AuctionConfig) *AuctionHandler {
	return &AuctionHandler{auctionSvc: auctionSvc, cfg: cfg}
}

// CreateAuction godoc
// POST /api/auctions [X-User-ID]
// Body: {"title":"Lamp","starting_bid":"100","reserve_price":"250",
// "snipe_window_sec":120,"starts_at":"2026-05-04T18:00:00Z","ends_at":"..."}
func (h *AuctionHandler) CreateAuction(c *gin.Context) {
	hostID := middleware.GetUserID(c)

	var body struct {
		Title          string     `json:"title"          binding:"required"`
		Description    string     `json:"description"`
		Category       string     `json:"category"`
		StartingBid    string     `json:"starting_bid"   binding:"required"`
		ReservePrice   *string    `json:"reserve_price"`
		SnipeWindowSec *int       `json:"snipe_window_sec"`
		StartsAt       *time.Time `json:"starts_at"`
		EndsAt         time.Time  `json:"ends_at"        binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	startingBid, err := decimal.NewFromString(body.StartingBid)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "starting_bid must be a decimal string")
		return
	}

	req := domain.CreateAuctionRequest{
		HostID:                hostID,
		Title:                 body.Title,
		Description:           body.Description,
		Category:              body.Category,
		StartingBid:           startingBid,
		SnipeProtectionWindow: h.cfg.DefaultSnipeWindow,
		EndsAt:                body.EndsAt,
	}
	if body.ReservePrice != nil {
		rp, err := decimal.NewFromString(*body.ReservePrice)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_RESERVE", "reserve_price must be a decimal string")
			return
		}
		req.ReservePrice = &rp
	}
	if body.SnipeWindowSec != nil {
		req.SnipeProtectionWindow = time.Duration(*body.SnipeWindowSec) * time.Second
	}
	if body.StartsAt != nil {
		req.StartsAt = *body.StartsAt
	}

	a, err := h.auctionSvc.CreateAuction(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err, "could not create auction")
		return
	}
	respondSuccess(c, http.StatusCreated, a)
}

// ListAuctions godoc
// GET /api/auctions?status=active&page=1&limit=20
func (h *AuctionHandler) ListAuctions(c *gin.Context) {
	page, limit := parsePagination(c)
	status := domain.AuctionStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "unknown status filter")
		return
	}

	items, total, err := h.auctionSvc.ListAuctions(c.Request.Context(), store.ListFilter{
		Status: status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		respondDomainError(c, err, "could not list auctions")
		return
	}
	respondList(c, items, total, page, limit)
}

// GetAuction godoc
// GET /api/auctions/:id
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := h.auctionSvc.GetAuction(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	minNext, err := h.auctionSvc.MinimumNextBid(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"auction":          a,
		"minimum_next_bid": minNext,
		"has_reserve":      a.ReservePrice != nil,
	})
}

// GetBids godoc
// GET /api/auctions/:id/bids
func (h *AuctionHandler) GetBids(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	bids, err := h.auctionSvc.GetBids(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch bids")
		return
	}
	respondSuccess(c, http.StatusOK, bids)
}

// GetHistory godoc
// GET /api/auctions/:id/history
func (h *AuctionHandler) GetHistory(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	entries, err := h.auctionSvc.GetHistory(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch history")
		return
	}
	respondSuccess(c, http.StatusOK, entries)
}

// VerifyHistory godoc
// GET /api/auctions/:id/history/verify
func (h *AuctionHandler) VerifyHistory(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	audit, err := h.auctionSvc.VerifyHistory(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not verify history")
		return
	}
	respondSuccess(c, http.StatusOK, audit)
}

// CancelAuction godoc
// POST /api/auctions/:id/cancel [X-User-ID]
// Body: {"reason":"item damaged"}
func (h *AuctionHandler) CancelAuction(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	id, ok := auctionID(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
			return
		}
	}

	a, err := h.auctionSvc.CancelAuction(c.Request.Context(), id, actorID, body.Reason)
	if err != nil {
		respondDomainError(c, err, "could not cancel auction")
		return
	}
	respondSuccess(c, http.StatusOK, a)
}

// auctionID parses the :id path parameter, writing a 400 when it is invalid.
func auctionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AUCTION_ID", "invalid auction id")
		return uuid.Nil, false
	}
	return id, true
}
