package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/domain/upload"
	"asset-pipeline/internal/infrastructure/mq"
	assetdto "asset-pipeline/internal/interface/api/rest/dto/asset"
)

const octetStream = "application/octet-stream"

type UploadService struct {
	cfg             config.Upload
	assetRepository asset.Repository
	quota           ports.QuotaService
	objects         ports.ObjectStore
	images          ports.ImageProcessor
	mq              ports.RabbitMQ
	logger          *zap.Logger
	mCounter        *prometheus.CounterVec
	mStage          *prometheus.HistogramVec

	mu       sync.RWMutex
	sessions map[uuid.UUID]*upload.Session
	keys     *keyHolds
}

// runState is what compensation needs to undo a failed or cancelled run.
type runState struct {
	reservation *quota.Reservation
	bucket      string
	key         string
	held        bool
	uploaded    bool

	originalSize int64
	fallback     bool
	stageStart   time.Time
}

func NewUploadService(
	cfg config.Upload,
	assetRepository asset.Repository,
	quotaService ports.QuotaService,
	objects ports.ObjectStore,
	images ports.ImageProcessor,
	mq ports.RabbitMQ,
	logger *zap.Logger,
	mCounter *prometheus.CounterVec,
	mStage *prometheus.HistogramVec,
) ports.UploadService {
	if cfg.RetryMaxAttempt < 1 {
		cfg.RetryMaxAttempt = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &UploadService{
		cfg:             cfg,
		assetRepository: assetRepository,
		quota:           quotaService,
		objects:         objects,
		images:          images,
		mq:              mq,
		logger:          logger,
		mCounter:        mCounter,
		mStage:          mStage,
		sessions:        make(map[uuid.UUID]*upload.Session),
		keys:            newKeyHolds(),
	}
}

// Submit registers a session and drives it in its own goroutine. The run is detached
// from ctx cancellation; callers stop it through Cancel.
func (us *UploadService) Submit(ctx context.Context, req upload.Request) (*upload.Session, error) {
	if !req.ContentType.Valid() {
		return nil, upload.NewStageError(upload.StageValidation, 0, upload.ErrInvalidInput,
			fmt.Errorf("%w: %q", asset.ErrUnknownContentType, req.ContentType))
	}

	s := upload.NewSession(req.Owner.ID, req.ContentType, us.cfg.RetryMaxAttempt)

	us.mu.Lock()
	us.sessions[s.ID] = s
	us.mu.Unlock()

	s.Start()
	go us.run(context.WithoutCancel(ctx), s, req)

	return s, nil
}

func (us *UploadService) Session(owner asset.OwnerID, id uuid.UUID) (*upload.Session, error) {
	us.mu.RLock()
	s, ok := us.sessions[id]
	us.mu.RUnlock()
	if !ok || s.OwnerID != owner {
		return nil, upload.ErrSessionNotFound
	}

	return s, nil
}

func (us *UploadService) Cancel(owner asset.OwnerID, id uuid.UUID) error {
	s, err := us.Session(owner, id)
	if err != nil {
		return err
	}

	return s.Cancel()
}

func (us *UploadService) Dismiss(owner asset.OwnerID, id uuid.UUID) error {
	s, err := us.Session(owner, id)
	if err != nil {
		return err
	}
	if !s.Stage().Terminal() {
		return fmt.Errorf("%w: session is still %s", upload.ErrInvalidStage, s.Stage())
	}

	us.mu.Lock()
	delete(us.sessions, id)
	us.mu.Unlock()

	return nil
}

func (us *UploadService) run(ctx context.Context, s *upload.Session, req upload.Request) {
	start := time.Now()
	st := &runState{originalSize: int64(len(req.Data)), stageStart: start}

	a, duplicate, err := us.process(ctx, s, req, st)
	if err != nil {
		us.compensate(ctx, s, st)
		us.observeStage(s.Stage(), st)
		s.Fail(err)
		us.count("upload_failed_total")

		us.logger.Warn("upload failed",
			zap.String("session_id", s.ID.String()),
			zap.String("owner_id", s.OwnerID.String()),
			zap.String("content_type", s.ContentType.String()),
			zap.Error(err),
		)
		return
	}

	us.observeStage(upload.StageDatabase, st)
	if err = s.Complete(a, duplicate); err != nil {
		us.logger.Error("session completion rejected", zap.String("session_id", s.ID.String()), zap.Error(err))
		return
	}

	switch {
	case duplicate:
		us.count("upload_duplicate_total")
	default:
		us.count("upload_complete_total")
		if us.mq != nil {
			us.mq.Publish(mq.NewEvent(mq.RoutingAssetCreated, assetdto.ToResponseAsset(*a)))
		}
	}
	if st.fallback {
		us.count("upload_fallback_original_total")
	}

	us.logger.Info("upload complete",
		zap.String("session_id", s.ID.String()),
		zap.String("owner_id", s.OwnerID.String()),
		zap.String("content_type", s.ContentType.String()),
		zap.String("asset_id", a.ID.String()),
		zap.String("digest", a.Digest),
		zap.Int64("original_size", st.originalSize),
		zap.Int64("final_size", a.ByteSize),
		zap.Bool("duplicate", duplicate),
		zap.Bool("fallback_original", st.fallback),
		zap.Duration("duration", time.Since(start)),
	)
}

func (us *UploadService) process(
	ctx context.Context,
	s *upload.Session,
	req upload.Request,
	st *runState,
) (*asset.Asset, bool, error) {
	img, err := us.validate(req)
	if err != nil {
		return nil, false, upload.NewStageError(upload.StageValidation, 0, upload.ErrInvalidInput, err)
	}

	if err = us.advance(s, upload.StageHEICConversion, 0, "", st); err != nil {
		return nil, false, err
	}
	if upload.IsHEIC(img.MimeType) {
		img, err = us.images.ConvertHEIC(ctx, img)
		if err != nil {
			return nil, false, upload.NewStageError(upload.StageHEICConversion, 0, upload.ErrConversionFailed, err)
		}
	}

	if err = us.advance(s, upload.StageCompression, 0, "", st); err != nil {
		return nil, false, err
	}
	if compressed, cerr := us.images.Compress(ctx, img); cerr != nil {
		st.fallback = true
		us.logger.Warn("compression failed, keeping validated bytes",
			zap.String("session_id", s.ID.String()),
			zap.String("mime_type", img.MimeType),
			zap.Error(cerr),
		)
	} else {
		img = compressed
	}

	if err = us.advance(s, upload.StageHash, 0, "", st); err != nil {
		return nil, false, err
	}
	sum := sha256.Sum256(img.Data)
	digest := hex.EncodeToString(sum[:])

	if err = us.advance(s, upload.StageDeduplication, 0, "", st); err != nil {
		return nil, false, err
	}
	if req.ContentType.Deduplicated() {
		existing, ferr := us.assetRepository.FindByDigest(ctx, req.Owner.ID, digest)
		if ferr != nil {
			return nil, false, upload.NewStageError(upload.StageDeduplication, 0, nil, ferr)
		}
		if existing != nil {
			if err = us.advance(s, upload.StageDatabase, 0, "duplicate content", st); err != nil {
				return nil, false, err
			}
			linked, lerr := us.assetRepository.Link(ctx, existing.ID)
			if lerr != nil {
				return nil, false, upload.NewStageError(upload.StageDatabase, 0, nil, lerr)
			}
			return linked, true, nil
		}
	}

	if err = us.advance(s, upload.StageQuota, 0, "", st); err != nil {
		return nil, false, err
	}
	st.reservation, err = us.quota.Reserve(ctx, req.Owner, req.ContentType)
	if err != nil {
		return nil, false, upload.NewStageError(upload.StageQuota, 0, nil, err)
	}

	if err = us.advance(s, upload.StageUpload, 0, "", st); err != nil {
		return nil, false, err
	}
	st.bucket = us.objects.PrivateBucket()
	st.key = asset.StorageKey(req.Owner.ID, req.ContentType, digest, upload.Extension(img.MimeType))
	if err = us.keys.acquire(ctx, holdKey(st.bucket, st.key)); err != nil {
		return nil, false, upload.NewStageError(upload.StageUpload, 0, upload.ErrUploadFailed, err)
	}
	st.held = true
	if attempt, uerr := us.uploadWithRetry(ctx, s, st, img); uerr != nil {
		kind := upload.ErrUploadFailed
		if errors.Is(uerr, upload.ErrCancelled) {
			kind = nil
		}
		return nil, false, upload.NewStageError(s.Stage(), attempt, kind, uerr)
	}
	st.uploaded = true

	// last cancellation point
	if err = us.advance(s, upload.StageDatabase, 0, "", st); err != nil {
		return nil, false, err
	}

	a := &asset.Asset{
		ID:          uuid.New(),
		OwnerID:     req.Owner.ID,
		ContentType: req.ContentType,
		Digest:      digest,
		Bucket:      st.bucket,
		StorageKey:  st.key,
		FileName:    displayName(req.FileName, upload.Extension(img.MimeType)),
		MimeType:    img.MimeType,
		ByteSize:    int64(len(img.Data)),
		Width:       img.Width,
		Height:      img.Height,
		RefCount:    1,
	}
	recorded, err := us.assetRepository.Record(ctx, a, st.reservation.ID)
	if errors.Is(err, asset.ErrDuplicateDigest) {
		return us.adoptWinner(ctx, req, digest, st)
	}
	if err != nil {
		return nil, false, upload.NewStageError(upload.StageDatabase, 0, nil, err)
	}

	// committed together with the row
	st.reservation = nil
	st.uploaded = false
	us.keys.drop(holdKey(st.bucket, st.key))
	st.held = false

	return recorded, false, nil
}

// adoptWinner handles a concurrent writer committing the same digest first: link to
// its row and let compensation drop our reservation. Our object is only removed when
// its key differs from the winner's.
func (us *UploadService) adoptWinner(
	ctx context.Context,
	req upload.Request,
	digest string,
	st *runState,
) (*asset.Asset, bool, error) {
	winner, err := us.assetRepository.FindByDigest(ctx, req.Owner.ID, digest)
	if err == nil && winner == nil {
		err = asset.ErrNotFound
	}
	if err != nil {
		return nil, false, upload.NewStageError(upload.StageDatabase, 0, nil, err)
	}

	linked, err := us.assetRepository.Link(ctx, winner.ID)
	if err != nil {
		return nil, false, upload.NewStageError(upload.StageDatabase, 0, nil, err)
	}

	if winner.Bucket == st.bucket && winner.StorageKey == st.key {
		st.uploaded = false
	}
	us.compensate(ctx, nil, st)

	return linked, true, nil
}

func (us *UploadService) uploadWithRetry(
	ctx context.Context,
	s *upload.Session,
	st *runState,
	img *upload.Image,
) (int, error) {
	attempt := 0

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = us.cfg.RetryBase
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(us.cfg.RetryMaxAttempt-1)), ctx)

	op := func() error {
		if attempt > 0 {
			if err := s.Checkpoint(); err != nil {
				return backoff.Permanent(err)
			}
		}
		err := us.objects.Put(ctx, st.bucket, st.key, img.MimeType, img.Data)
		if errors.Is(err, ports.ErrStoragePermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		attempt++
		msg := fmt.Sprintf("attempt %d failed, retrying in %s: %v", attempt, wait, err)
		if aerr := us.advance(s, upload.StageUploadRetry, attempt, msg, st); aerr != nil {
			us.logger.Debug("retry transition skipped", zap.String("session_id", s.ID.String()), zap.Error(aerr))
		}
	}

	return attempt, backoff.RetryNotify(op, policy, notify)
}

func (us *UploadService) validate(req upload.Request) (*upload.Image, error) {
	if len(req.Data) == 0 {
		return nil, errors.New("file is empty")
	}
	if us.cfg.MaxBytes > 0 && int64(len(req.Data)) > us.cfg.MaxBytes {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", len(req.Data), us.cfg.MaxBytes)
	}

	sniffed := upload.NormalizeMIME(us.images.Sniff(req.Data))
	declared := upload.NormalizeMIME(req.MimeType)
	if declared == "" || declared == octetStream {
		declared = sniffed
	}
	if !upload.Allowed(declared) {
		return nil, fmt.Errorf("unsupported type %q", declared)
	}
	if !upload.SameFamily(declared, sniffed) {
		return nil, fmt.Errorf("declared %s but content is %s", declared, sniffed)
	}

	return &upload.Image{Data: req.Data, MimeType: declared}, nil
}

// compensate undoes side effects of a run that will not commit. s is nil when the
// run itself succeeded (a lost race). The object is only removed by the last run
// holding its key, and only when no row references it.
func (us *UploadService) compensate(ctx context.Context, s *upload.Session, st *runState) {
	fields := []zap.Field{zap.String("key", st.key)}
	if s != nil {
		fields = append(fields, zap.String("session_id", s.ID.String()))
	}

	if st.held {
		if finish := us.keys.release(holdKey(st.bucket, st.key)); finish != nil {
			if st.uploaded {
				us.removeOrphan(ctx, st, fields)
			}
			finish()
		} else if st.uploaded {
			us.logger.Debug("object kept for a concurrent upload", fields...)
		}
		st.held = false
	}
	st.uploaded = false

	if st.reservation != nil {
		if err := us.quota.Release(ctx, st.reservation); err != nil {
			us.logger.Warn("reservation release failed", append(fields, zap.Error(err))...)
		}
		st.reservation = nil
	}
}

func (us *UploadService) removeOrphan(ctx context.Context, st *runState, fields []zap.Field) {
	referenced, err := us.assetRepository.StorageKeyExists(ctx, st.bucket, st.key)
	switch {
	case err != nil:
		us.logger.Warn("orphan check failed, leaving object to the sweeper", append(fields, zap.Error(err))...)
	case !referenced:
		if err = us.objects.Delete(ctx, st.bucket, st.key); err != nil {
			us.logger.Warn("object cleanup failed", append(fields, zap.Error(err))...)
		}
	}
}

func (us *UploadService) advance(s *upload.Session, to upload.Stage, attempt int, msg string, st *runState) error {
	from := s.Stage()
	if err := s.Advance(to, attempt, msg); err != nil {
		if errors.Is(err, upload.ErrCancelled) {
			return upload.NewStageError(from, attempt, upload.ErrCancelled, nil)
		}
		return upload.NewStageError(from, attempt, nil, err)
	}
	us.observeStage(from, st)

	return nil
}

func (us *UploadService) observeStage(stage upload.Stage, st *runState) {
	now := time.Now()
	if us.mStage != nil {
		us.mStage.WithLabelValues(stage.String()).Observe(now.Sub(st.stageStart).Seconds())
	}
	st.stageStart = now
}

func (us *UploadService) count(result string) {
	if us.mCounter != nil {
		us.mCounter.WithLabelValues(result).Inc()
	}
}
