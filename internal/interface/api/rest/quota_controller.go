package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/infrastructure/jwt"
	"asset-pipeline/internal/interface/api/rest/dto/quota"
	"asset-pipeline/internal/interface/api/rest/middleware"
	"asset-pipeline/internal/interface/api/rest/validator"
)

type QuotaController struct {
	quotaService ports.QuotaService
	logger       *zap.Logger
	now          func() time.Time
}

func NewQuotaController(
	r *gin.Engine,
	quotaService ports.QuotaService,
	logger *zap.Logger,
	jwtService *jwt.Service,
) *QuotaController {
	qc := &QuotaController{
		quotaService: quotaService,
		logger:       logger,
		now:          time.Now,
	}

	r.GET(RouteQuota, middleware.AuthMiddleware(jwtService), qc.GetUsageHandler)

	return qc
}

func (qc *QuotaController) GetUsageHandler(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ct, ok := validator.ContentType(c.Param("content_type"))
	if !ok {
		c.JSON(
			http.StatusBadRequest,
			gin.H{"error": "content_type must be one of task_image, reward_image, avatar"},
		)
		return
	}

	u, err := qc.quotaService.Usage(c.Request.Context(), owner, ct)
	if err != nil {
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "failed to get quota usage"},
		)
		qc.logger.Error("Usage() error", zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, quota.ToResponseUsage(u, qc.now()))
}
