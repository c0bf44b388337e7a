package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Engine error → HTTP
// ──────────────────────────────────────────────────────────────────────────────

// errorCodes maps specific sentinels to stable client-facing codes. Anything
// not listed falls back to its kind's code.
var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrBidTooLow, "ERR_BID_TOO_LOW"},
	{domain.ErrSelfOutbid, "ERR_SELF_OUTBID"},
	{domain.ErrInvalidAmount, "ERR_INVALID_AMOUNT"},
	{domain.ErrInvalidSchedule, "ERR_INVALID_SCHEDULE"},
	{domain.ErrInvalidSnipeWindow, "ERR_INVALID_SNIPE_WINDOW"},
	{domain.ErrInvalidReserve, "ERR_INVALID_RESERVE"},
	{domain.ErrMissingField, "ERR_MISSING_FIELD"},
	{domain.ErrAuctionNotActive, "ERR_AUCTION_NOT_ACTIVE"},
	{domain.ErrAuctionClosed, "ERR_AUCTION_CLOSED"},
	{domain.ErrAuctionNotFound, "ERR_AUCTION_NOT_FOUND"},
	{domain.ErrLockTimeout, "ERR_LOCK_TIMEOUT"},
	{domain.ErrInsufficientFunds, "ERR_INSUFFICIENT_FUNDS"},
}

// respondDomainError translates an engine error by kind: ledger 402,
// validation 400, not-found 404, state 409, concurrency 503, anything else
// 500. Ledger goes first because the ledger boundary may wrap a not-found
// account. Internal failures never leak their message.
func respondDomainError(c *gin.Context, err error, fallback string) {
	code := ""
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			code = ec.code
			break
		}
	}

	switch {
	case domain.IsLedger(err):
		respondError(c, http.StatusPaymentRequired, orCode(code, "ERR_LEDGER"), err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, orCode(code, "ERR_VALIDATION"), err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, orCode(code, "ERR_NOT_FOUND"), err.Error())
	case domain.IsState(err):
		respondError(c, http.StatusConflict, orCode(code, "ERR_STATE"), err.Error())
	case domain.IsConcurrency(err):
		c.Header("Retry-After", "1")
		respondError(c, http.StatusServiceUnavailable, orCode(code, "ERR_CONCURRENCY"), err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
	}
}

func orCode(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}

// parsePagination reads ?page= and ?limit= with sane defaults.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
