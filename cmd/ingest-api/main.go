package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixel-relay/internal/capi"
	"pixel-relay/internal/config"
	"pixel-relay/internal/geo"
	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
	"pixel-relay/internal/pipeline"
	"pixel-relay/internal/store/postgres"
	"pixel-relay/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("starting ingest API on %s", cfg.IngestAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	events := postgres.NewEventStore(db)
	visitors := postgres.NewVisitorStore(db)
	resolver := geo.NewResolver(cfg.GeoAPIBase, cfg.GeoTimeout, visitors)

	var creds capi.Resolver
	if cfg.CredentialsAPIBase != "" {
		creds = capi.NewHTTPResolver(cfg.CredentialsAPIBase, cfg.CAPITimeout)
	} else {
		creds = capi.NewStaticResolver(cfg.Pixels)
	}
	dispatcher := capi.NewDispatcher(cfg.GraphAPIBase, cfg.CAPITimeout, creds, capi.Options{
		FrontendURL:     cfg.FrontendURL,
		DefaultCurrency: cfg.DefaultCurrency,
		Scheme:          cfg.Scheme(),
	})

	pipe := pipeline.New(resolver, events, visitors, dispatcher)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.NewHTTPMetrics("ingest_api").Handler())
	router.Use(httpx.CORSMiddleware(cfg.CORSAllowOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/event", func(c *gin.Context) {
		handleEvent(c, pipe, cfg.BotUserAgents)
	})

	server := &http.Server{
		Addr:    cfg.IngestAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ingest server failed: %v", err)
		}
	}()

	graceful(server)
}

// handleEvent accepts a beacon post and acknowledges it unconditionally once
// the pipeline has run; only a non-JSON body is rejected. A sink being down
// must never fail a page load or checkout flow.
func handleEvent(c *gin.Context, pipe *pipeline.Pipeline, botDenyList []string) {
	var in model.IncomingEvent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	req := httpx.StdRequest{R: c.Request}
	userAgent := in.UA
	if userAgent == "" {
		userAgent = req.Header("user-agent")
	}
	if util.IsBot(userAgent, botDenyList) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	pipe.Process(c.Request.Context(), in, req)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func graceful(server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutting down ingest API...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
