package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-pipeline/internal/application/ports"
	domainAccess "asset-pipeline/internal/domain/access"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/domain/upload"
	"asset-pipeline/internal/infrastructure/jwt"
	"asset-pipeline/internal/interface/api/rest/dto/asset"
	"asset-pipeline/internal/interface/api/rest/middleware"
	"asset-pipeline/internal/interface/api/rest/validator"
)

// multipart overhead allowed on top of the largest accepted file
const formOverhead = int64(1 << 20)

type AssetController struct {
	uploadService ports.UploadService
	assetService  ports.AssetService
	accessService ports.AccessService
	maxBytes      int64
	logger        *zap.Logger
}

func NewAssetController(
	r *gin.Engine,
	uploadService ports.UploadService,
	assetService ports.AssetService,
	accessService ports.AccessService,
	maxBytes int64,
	logger *zap.Logger,
	jwtService *jwt.Service,
	limiter *middleware.OwnerRateLimiter,
) *AssetController {
	ac := &AssetController{
		uploadService: uploadService,
		assetService:  assetService,
		accessService: accessService,
		maxBytes:      maxBytes,
		logger:        logger,
	}

	auth := middleware.AuthMiddleware(jwtService)

	r.POST(RouteAssets, auth, limiter.Handler(), ac.UploadHandler)
	r.GET(RouteAssetURL, auth, ac.GetAssetURLHandler)
	r.DELETE(RouteAsset, auth, ac.DeleteAssetHandler)

	r.GET(RouteUpload, auth, ac.GetUploadHandler)
	r.DELETE(RouteUpload, auth, ac.CancelUploadHandler)

	return ac
}

// UploadHandler accepts a multipart "file" and streams the pipeline progress back as
// server-sent events: one "session" event, "progress" events, then "complete" or
// "failed". Closing the connection cancels the session.
func (ac *AssetController) UploadHandler(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ct, ok := validator.ContentType(c.Query("content_type"))
	if !ok {
		c.JSON(
			http.StatusBadRequest,
			gin.H{"error": "content_type must be one of task_image, reward_image, avatar"},
		)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ac.maxBytes+formOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large or empty"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size <= 0 || fh.Size > ac.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large or empty"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		ac.logger.Error("FormFile.Open() error", zap.Error(err))
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, ac.maxBytes+1))
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		ac.logger.Error("ReadAll() error", zap.Error(err))
		return
	}

	s, err := ac.uploadService.Submit(c.Request.Context(), upload.Request{
		Owner:       owner,
		ContentType: ct,
		FileName:    fh.Filename,
		MimeType:    fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error()})
		if status >= http.StatusInternalServerError {
			ac.logger.Error("Submit() error", zap.Error(err))
		}
		return
	}

	ac.streamSession(c, owner, s)
}

func (ac *AssetController) streamSession(c *gin.Context, owner quota.Owner, s *upload.Session) {
	defer func() {
		go func() {
			<-s.Done()
			_ = ac.uploadService.Dismiss(owner.ID, s.ID)
		}()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("session", asset.Session{SessionID: s.ID})
	c.Writer.Flush()

	updates := s.Updates()
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			if err := ac.uploadService.Cancel(owner.ID, s.ID); err != nil &&
				!errors.Is(err, upload.ErrTooLateToCancel) {
				ac.logger.Warn("Cancel() on disconnect error", zap.Error(err))
			}
			return
		case u, ok := <-updates:
			if !ok {
				ac.writeResult(c, s)
				return
			}
			if u.Stage.Terminal() {
				ac.writeResult(c, s)
				return
			}
			c.SSEvent("progress", asset.ToResponseProgress(u))
			c.Writer.Flush()
		}
	}
}

func (ac *AssetController) writeResult(c *gin.Context, s *upload.Session) {
	<-s.Done()

	a, duplicate, err := s.Result()
	if err != nil || a == nil {
		if err == nil {
			err = upload.ErrUploadFailed
		}
		c.SSEvent("failed", asset.ToResponseFailed(err))
	} else {
		c.SSEvent("complete", asset.Complete{
			Asset:     asset.ToResponseAsset(*a),
			Duplicate: duplicate,
		})
	}
	c.Writer.Flush()
}

func (ac *AssetController) GetUploadHandler(c *gin.Context) {
	owner, id, ok := ac.sessionParams(c)
	if !ok {
		return
	}

	s, err := ac.uploadService.Session(owner.ID, id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	st := s.Snapshot()
	c.JSON(http.StatusOK, asset.Progress{
		Stage:   st.Stage.String(),
		Percent: st.Percent,
		Attempt: st.Attempt,
	})
}

func (ac *AssetController) CancelUploadHandler(c *gin.Context) {
	owner, id, ok := ac.sessionParams(c)
	if !ok {
		return
	}

	if err := ac.uploadService.Cancel(owner.ID, id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusAccepted)
}

func (ac *AssetController) sessionParams(c *gin.Context) (quota.Owner, uuid.UUID, bool) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return quota.Owner{}, uuid.Nil, false
	}
	ok, id := validator.IsUUID(c.Param("session_id"))
	if !ok {
		c.JSON(
			http.StatusBadRequest,
			gin.H{"error": "session_id must be a valid UUID"},
		)
		return quota.Owner{}, uuid.Nil, false
	}
	return owner, id, true
}

func (ac *AssetController) GetAssetURLHandler(c *gin.Context) {
	owner, id, ok := ac.assetParams(c)
	if !ok {
		return
	}

	a, err := ac.assetService.FindAsset(c.Request.Context(), owner.ID, id)
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"error": "asset not found"})
		if status != http.StatusNotFound {
			ac.logger.Error("FindAsset() error", zap.Error(err))
		}
		return
	}

	u, err := ac.accessService.ResolveWithRetry(c.Request.Context(), domainAccess.Request{
		StorageKey: a.StorageKey,
		Bucket:     a.Bucket,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": domainAccess.ErrImageUnavailable.Error()})
		ac.logger.Warn("ResolveWithRetry() error", zap.String("asset_id", id.String()), zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, u)
}

func (ac *AssetController) DeleteAssetHandler(c *gin.Context) {
	owner, id, ok := ac.assetParams(c)
	if !ok {
		return
	}

	if err := ac.assetService.DeleteAsset(c.Request.Context(), owner, id); err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			c.JSON(status, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(status, gin.H{"error": "failed to delete asset"})
		ac.logger.Error("DeleteAsset() error", zap.Error(err))
		return
	}

	c.Status(http.StatusNoContent)
}

func (ac *AssetController) assetParams(c *gin.Context) (quota.Owner, uuid.UUID, bool) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return quota.Owner{}, uuid.Nil, false
	}
	ok, id := validator.IsUUID(c.Param("asset_id"))
	if !ok {
		c.JSON(
			http.StatusBadRequest,
			gin.H{"error": "asset_id must be a valid UUID"},
		)
		return quota.Owner{}, uuid.Nil, false
	}
	return owner, id, true
}
