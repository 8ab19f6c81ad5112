package main

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"checkout-service/config"
	"checkout-service/handlers"
	"checkout-service/logging"
	"checkout-service/middleware"
	"checkout-service/monitoring"
	"checkout-service/processor"
	"checkout-service/service"
	"checkout-service/signedurl"
)

func main() {
	// Initialize structured logging
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// Keep serving: handlers answer with a diagnostic error instead of
		// crashing on a misconfigured deployment.
		logging.Warn("Processor credentials missing", zap.Error(err))
	}

	// Initialize OpenTelemetry
	tp, tracer, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, _, err := monitoring.InitMeter(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Initialize service layer
	codec := signedurl.New(cfg.SigningSecret, cfg.ReturnTokenTTL, nil)
	payjp := processor.NewClient(cfg.PayJPAPIURL, cfg.PayJPSecret)
	checkoutService := service.NewCheckoutService(tracer, payjp, codec, cfg)

	// Initialize handlers
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(httpMetricsMiddleware())

	// Routes
	r.GET("/health", checkoutHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/api/token", checkoutHandler.InitiateCharge)
	r.POST("/api/charge", checkoutHandler.ConfirmCharge)

	// Start server
	logging.Info("Checkout service starting", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logging.Fatal("Failed to start server", zap.Error(err))
	}
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Record duration
		duration := float64(time.Since(start).Milliseconds())

		monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", c.FullPath()),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}
