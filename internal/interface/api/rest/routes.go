package rest

const (
	// api
	RouteApiV1 = "/api/v1"

	// assets
	RouteAssets   = RouteApiV1 + "/assets"
	RouteAsset    = RouteAssets + "/:asset_id"
	RouteAssetURL = RouteAsset + "/url"

	// upload sessions
	RouteUploads = RouteApiV1 + "/uploads"
	RouteUpload  = RouteUploads + "/:session_id"

	RouteQuotas = RouteApiV1 + "/quotas"
	RouteQuota  = RouteQuotas + "/:content_type"

	RouteAccess = RouteApiV1 + "/access"

	// ops
	RouteHealth  = RouteApiV1 + "/healthz"
	RouteMetrics = RouteApiV1 + "/metrics"
)
