package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanmaizon/taskplan/internal/config"
	"github.com/alanmaizon/taskplan/internal/domain"
	"github.com/alanmaizon/taskplan/internal/llm"
	"github.com/alanmaizon/taskplan/internal/metrics"
	"github.com/alanmaizon/taskplan/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type PlanGenerator interface {
	Generate(ctx context.Context, req domain.PlanRequest) (*domain.TaskPlan, bool)
}

type Dependencies struct {
	Generator PlanGenerator
	Registry  *llm.Registry
	Planner   config.PlannerConfig
}

func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, domain.HealthResponse{OK: true})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/api/providers", func(c *gin.Context) {
		c.JSON(http.StatusOK, domain.ProvidersResponse{
			Active:    activeProvider(deps.Planner.Provider),
			Providers: deps.Registry.Providers(),
		})
	})

	router.GET("/generate_tasks", func(c *gin.Context) {
		req, ok := planRequestFromQuery(c, deps.Planner)
		if !ok {
			return
		}

		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("component", "api").
			Str("provider", req.Provider).
			Int("core_num", req.CoreTaskCount).
			Int("sub_num", req.SubTaskCount).
			Msg("generating task plan")

		// The upstream call outlives a disconnected client.
		ctx := context.WithoutCancel(c.Request.Context())
		plan, ok := deps.Generator.Generate(ctx, req)
		if !ok {
			c.JSON(http.StatusOK, domain.ErrorResponse{Error: domain.TaskGenerationFailed})
			return
		}
		c.JSON(http.StatusOK, plan)
	})
}

func planRequestFromQuery(c *gin.Context, settings config.PlannerConfig) (domain.PlanRequest, bool) {
	req := domain.PlanRequest{Provider: settings.Provider}

	identity, present := c.GetQuery("identity")
	switch {
	case present:
		req.Identity = identity
	case settings.QueryDefaults:
		req.Identity = settings.DefaultIdentity
	default:
		writeError(c, http.StatusUnprocessableEntity, "missing query parameter: identity")
		return domain.PlanRequest{}, false
	}

	var ok bool
	if req.CoreTaskCount, ok = intQuery(c, "coreNum", settings.QueryDefaults, settings.DefaultCoreNum); !ok {
		return domain.PlanRequest{}, false
	}
	if req.SubTaskCount, ok = intQuery(c, "subNum", settings.QueryDefaults, settings.DefaultSubNum); !ok {
		return domain.PlanRequest{}, false
	}
	return req, true
}

func intQuery(c *gin.Context, name string, useDefault bool, fallback int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present {
		if useDefault {
			return fallback, true
		}
		writeError(c, http.StatusUnprocessableEntity, "missing query parameter: "+name)
		return 0, false
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "invalid query parameter: "+name)
		return 0, false
	}
	return value, true
}

func activeProvider(configured string) string {
	selector, err := llm.ParseSelector(configured)
	if err != nil {
		return strings.TrimSpace(configured)
	}
	return string(selector)
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, domain.ErrorResponse{Error: message})
}
