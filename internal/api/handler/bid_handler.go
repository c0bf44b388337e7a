package handler

import (
	"net/http"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BidHandler serves manual and proxy bid placement.
type BidHandler struct {
	bidSvc *service.BidService
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bidSvc *service.BidService) *BidHandler {
	return &BidHandler{bidSvc: bidSvc}
}

// PlaceBid godoc
// POST /api/auctions/:id/bids [X-User-ID]
// Body: {"amount":"150.00"}
func (h *BidHandler) PlaceBid(c *gin.Context) {
	bidderID := middleware.GetUserID(c)
	id, ok := auctionID(c)
	if !ok {
		return
	}

	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	res, err := h.bidSvc.PlaceBid(c.Request.Context(), id, bidderID, amount)
	if err != nil {
		respondDomainError(c, err, "could not place bid")
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// PlaceProxyBid godoc
// POST /api/auctions/:id/proxy-bids [X-User-ID]
// Body: {"max_amount":"600.00"}
func (h *BidHandler) PlaceProxyBid(c *gin.Context) {
	bidderID := middleware.GetUserID(c)
	id, ok := auctionID(c)
	if !ok {
		return
	}

	var body struct {
		MaxAmount string `json:"max_amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	maxAmount, err := decimal.NewFromString(body.MaxAmount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "max_amount must be a decimal string")
		return
	}

	res, err := h.bidSvc.PlaceProxyBid(c.Request.Context(), id, bidderID, maxAmount)
	if err != nil {
		respondDomainError(c, err, "could not place proxy bid")
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}
