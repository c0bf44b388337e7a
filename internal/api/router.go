package api

import (
	"context"
	"net/http"

	"github.com/evetabi/auction/internal/api/handler"
	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuctionSvc *service.AuctionService
	BidSvc     *service.BidService
	Cfg        *config.Config
}

// SetupRouter creates the gin engine with all routes and middleware. ctx
// bounds the background work of the rate limiter.
func SetupRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	auctionH := handler.NewAuctionHandler(deps.AuctionSvc, deps.Cfg.Auction)
	bidH := handler.NewBidHandler(deps.BidSvc)

	actorMW := middleware.ActorMiddleware()
	bidRL := middleware.RateLimitMiddleware(ctx, deps.Cfg.RateLimit.BidRPS, deps.Cfg.RateLimit.BidBurst)

	api := r.Group("/api")
	{
		// ── Auctions (public reads) ──────────────────────────────────────────
		auctions := api.Group("/auctions")
		{
			auctions.GET("", auctionH.ListAuctions)
			auctions.GET("/:id", auctionH.GetAuction)
			auctions.GET("/:id/bids", auctionH.GetBids)
			auctions.GET("/:id/history", auctionH.GetHistory)
			auctions.GET("/:id/history/verify", auctionH.VerifyHistory)
		}

		// ── Routes acting on behalf of a caller ──────────────────────────────
		acting := api.Group("/auctions")
		acting.Use(actorMW)
		{
			acting.POST("", auctionH.CreateAuction)
			acting.POST("/:id/cancel", auctionH.CancelAuction)
			acting.POST("/:id/bids", bidRL, bidH.PlaceBid)
			acting.POST("/:id/proxy-bids", bidRL, bidH.PlaceProxyBid)
		}
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers. Outside production every origin is
// allowed; in production only the configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
