package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"asset-pipeline/internal/application/ports"
	domainAsset "asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	jwtSvc "asset-pipeline/internal/infrastructure/jwt"
)

type FakeQuotaService struct {
	UsageFunc func(ctx context.Context, owner quota.Owner, ct domainAsset.ContentType) (quota.Usage, error)
}

func (f *FakeQuotaService) Reserve(ctx context.Context, owner quota.Owner, ct domainAsset.ContentType) (*quota.Reservation, error) {
	return nil, errors.New("not used")
}
func (f *FakeQuotaService) Release(ctx context.Context, r *quota.Reservation) error {
	return errors.New("not used")
}
func (f *FakeQuotaService) Refund(ctx context.Context, assetID domainAsset.ID) error {
	return errors.New("not used")
}
func (f *FakeQuotaService) Usage(ctx context.Context, owner quota.Owner, ct domainAsset.ContentType) (quota.Usage, error) {
	if f.UsageFunc == nil {
		return quota.Usage{}, errors.New("not used")
	}
	return f.UsageFunc(ctx, owner, ct)
}

func setupRouterQC(t *testing.T, qs ports.QuotaService, now time.Time) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	qc := NewQuotaController(r, qs, zap.NewNop(), jwtSvc.New(testSecret))
	qc.now = func() time.Time { return now }

	return r
}

func TestQuotaController_GetUsageHandler(t *testing.T) {
	ownerID := uuid.New()
	now := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ct         string
		usageErr   error
		wantStatus int
		check      func(t *testing.T, resp map[string]any)
	}{
		{
			name:       "200 monthly usage",
			ct:         "task_image",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "task_image", resp["content_type"])
				assert.Equal(t, "monthly", resp["period"])
				assert.EqualValues(t, 4, resp["current"])
				assert.EqualValues(t, 5, resp["limit"])
				assert.EqualValues(t, 80, resp["percentage"])
				assert.Equal(t, true, resp["is_near_limit"])
				assert.Equal(t, false, resp["is_at_limit"])
				assert.EqualValues(t, 11, resp["resets_in_days"])
			},
		},
		{
			name:       "400 unknown content type",
			ct:         "banner",
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "content_type must be one of task_image, reward_image, avatar", resp["error"])
			},
		},
		{
			name:       "500 ledger error",
			ct:         "avatar",
			usageErr:   errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "failed to get quota usage", resp["error"])
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			qs := &FakeQuotaService{
				UsageFunc: func(ctx context.Context, owner quota.Owner, ct domainAsset.ContentType) (quota.Usage, error) {
					if tt.usageErr != nil {
						return quota.Usage{}, tt.usageErr
					}
					assert.Equal(t, ownerID, owner.ID)
					return quota.NewUsage(ct, quota.Limit{Period: quota.Monthly, Max: 5}, 4, now), nil
				},
			}
			r := setupRouterQC(t, qs, now)

			rr := doReq(t, r, http.MethodGet, RouteQuotas+"/"+tt.ct, authHeader(t, ownerID, "free"))
			require.Equal(t, tt.wantStatus, rr.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			tt.check(t, resp)
		})
	}
}
