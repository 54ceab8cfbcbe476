package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixel-relay/internal/config"
	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
	"pixel-relay/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.NewHTTPMetrics("query_api").Handler())
	router.Use(httpx.CORSMiddleware(cfg.CORSAllowOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	analytics := router.Group("/api/analytics")
	analytics.GET("/users/total", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		count, err := db.TotalUniqueUsers(ctx)
		return gin.H{"count": count}, err
	}, "failed to get total users"))
	analytics.GET("/users/by-device", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.UniqueUsersByDevice(ctx)
		return gin.H{"data": data}, err
	}, "failed to get users by device"))
	analytics.GET("/users/by-location", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.UniqueUsersByLocation(ctx)
		return gin.H{"data": data}, err
	}, "failed to get users by location"))
	analytics.GET("/users/recent", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.RecentUniqueUsers(ctx, limitParam(c))
		return gin.H{"data": data}, err
	}, "failed to get recent users"))
	analytics.GET("/events/counts", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.EventCounts(ctx)
		return gin.H{"data": data}, err
	}, "failed to get event counts"))
	analytics.GET("/events/purchases", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.RecentEventsByType(ctx, model.EventPurchase, limitParam(c))
		return gin.H{"data": data}, err
	}, "failed to get purchase events"))
	analytics.GET("/events/add-to-cart", handle(func(ctx context.Context, c *gin.Context) (gin.H, error) {
		data, err := db.RecentEventsByType(ctx, model.EventAddToCart, limitParam(c))
		return gin.H{"data": data}, err
	}, "failed to get add to cart events"))

	server := &http.Server{
		Addr:    cfg.QueryAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("query api failed: %v", err)
		}
	}()

	waitForSignal()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// handle wraps a query with a bounded timeout and uniform error responses.
func handle(fn func(ctx context.Context, c *gin.Context) (gin.H, error), msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		body, err := fn(ctx, c)
		if err != nil {
			log.Printf("[query-api] %s: %v", msg, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
