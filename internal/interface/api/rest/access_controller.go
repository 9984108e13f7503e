package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"asset-pipeline/internal/application/ports"
	domainAccess "asset-pipeline/internal/domain/access"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/jwt"
	"asset-pipeline/internal/interface/api/rest/dto/access"
	"asset-pipeline/internal/interface/api/rest/middleware"
	"asset-pipeline/internal/interface/api/rest/validator"
)

type AccessController struct {
	accessService ports.AccessService
	defaultBucket string
	publicBucket  string
	logger        *zap.Logger
}

func NewAccessController(
	r *gin.Engine,
	accessService ports.AccessService,
	defaultBucket, publicBucket string,
	logger *zap.Logger,
	jwtService *jwt.Service,
) *AccessController {
	acc := &AccessController{
		accessService: accessService,
		defaultBucket: defaultBucket,
		publicBucket:  publicBucket,
		logger:        logger,
	}

	r.GET(RouteAccess, middleware.AuthMiddleware(jwtService), acc.GetAccessHandler)

	return acc
}

// GetAccessHandler resolves a storage key to a time-limited URL. Unavailable images
// and keys outside the caller's prefix both answer 404.
func (acc *AccessController) GetAccessHandler(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req access.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid query",
			"details": err.Error(),
		})
		return
	}
	if errs := validator.ValidateAccess(req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid query",
			"details": errs,
		})
		return
	}

	dReq := access.ToDomainRequest(req, acc.defaultBucket, acc.publicBucket)
	if !acc.allowed(owner, dReq) {
		c.JSON(http.StatusNotFound, gin.H{"error": domainAccess.ErrImageUnavailable.Error()})
		return
	}

	u, err := acc.accessService.ResolveWithRetry(c.Request.Context(), dReq)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": domainAccess.ErrImageUnavailable.Error()})
		acc.logger.Warn("ResolveWithRetry() error",
			zap.String("storage_key", dReq.StorageKey),
			zap.String("bucket", dReq.Bucket),
			zap.Error(err),
		)
		return
	}

	c.JSON(http.StatusOK, u)
}

// allowed scopes non-admin callers to their own prefix outside the public bucket. The
// public flag alone grants nothing.
func (acc *AccessController) allowed(owner quota.Owner, req domainAccess.Request) bool {
	if owner.Role == quota.RoleAdmin || req.Bucket == acc.publicBucket {
		return true
	}
	return strings.HasPrefix(strings.TrimPrefix(req.StorageKey, "/"), owner.ID.String()+"/")
}
