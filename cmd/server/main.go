// Demo application showing flare embedded in a gin service: a handful of
// routes that succeed, fail validation, return structured errors and panic,
// so the dashboard has data to show.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goflare/flare"
	"github.com/goflare/flare/internal/pkg/apperrors"
	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/notifier"
)

func main() {
	cfg, err := flare.LoadConfig()
	if err != nil {
		logger.Init("info")
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	if url := os.Getenv("FLARE_SLACK_WEBHOOK"); url != "" {
		cfg.Notifiers = append(cfg.Notifiers, notifier.NewSlack(url))
	}
	if url := os.Getenv("FLARE_DISCORD_WEBHOOK"); url != "" {
		cfg.Notifiers = append(cfg.Notifiers, notifier.NewDiscord(url))
	}

	engine := gin.New()
	engine.Use(gin.Logger())

	f, err := flare.Setup(engine, cfg)
	if err != nil {
		logger.Error("failed to set up flare", "error", err.Error())
		os.Exit(1)
	}

	registerDemoRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err.Error())
	}
	f.Shutdown(ctx)
}

type createUserRequest struct {
	Name  string `json:"name" binding:"required,min=2"`
	Email string `json:"email" binding:"required,email"`
	// Redacted in captured bodies before storage.
	Password string `json:"password" binding:"required,min=8"`
}

func registerDemoRoutes(engine *gin.Engine) {
	engine.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "all good"})
	})

	engine.POST("/users", func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindWith(&req, binding.JSON); err != nil {
			var vErrs validator.ValidationErrors
			if errors.As(err, &vErrs) {
				_ = c.Error(vErrs)
			} else {
				_ = c.Error(err)
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "validation failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"name": req.Name, "email": req.Email})
	})

	engine.GET("/users/:id", func(c *gin.Context) {
		if c.Param("id") == "42" {
			c.JSON(http.StatusOK, gin.H{"id": 42, "name": "douglas"})
			return
		}
		appErr := apperrors.NewNotFound("user not found")
		_ = c.Error(appErr)
		c.JSON(appErr.HTTPStatus, gin.H{"detail": appErr.Message})
	})

	engine.GET("/flaky", func(c *gin.Context) {
		if time.Now().UnixNano()%3 == 0 {
			panic("downstream dependency exploded")
		}
		c.JSON(http.StatusOK, gin.H{"status": "survived"})
	})

	engine.GET("/slow", func(c *gin.Context) {
		time.Sleep(750 * time.Millisecond)
		c.JSON(http.StatusOK, gin.H{"status": "eventually"})
	})
}
