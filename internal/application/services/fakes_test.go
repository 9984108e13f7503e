package services

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/domain/access"
	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/domain/upload"
	"asset-pipeline/internal/infrastructure/mq"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func pngBytes(payload string) []byte {
	return append(append([]byte{}, pngMagic...), payload...)
}

// memQuotaRepository mirrors the conditional increment of the SQL repository.
type memQuotaRepository struct {
	mu           sync.Mutex
	counters     map[quota.Key]*quota.Counter
	reservations map[uuid.UUID]*quota.Reservation
}

func newMemQuotaRepository() *memQuotaRepository {
	return &memQuotaRepository{
		counters:     map[quota.Key]*quota.Counter{},
		reservations: map[uuid.UUID]*quota.Reservation{},
	}
}

func (m *memQuotaRepository) Reserve(_ context.Context, key quota.Key, windowStart time.Time, limit int64) (*quota.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = &quota.Counter{Key: key, WindowStart: windowStart}
		m.counters[key] = c
	}
	if key.Period == quota.Monthly && c.WindowStart.Before(windowStart) {
		c.Current, c.WindowStart = 0, windowStart
	}
	if limit >= 0 && c.Current >= limit {
		return nil, &quota.ExceededError{ContentType: key.ContentType, Current: c.Current, Limit: limit}
	}
	c.Current++

	r := &quota.Reservation{
		ID:          uuid.New(),
		Key:         key,
		WindowStart: windowStart,
		Status:      quota.StatusPending,
		CreatedAt:   time.Now(),
	}
	m.reservations[r.ID] = r
	cp := *r

	return &cp, nil
}

func (m *memQuotaRepository) Release(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != quota.StatusPending {
		return false, nil
	}
	r.Status = quota.StatusReleased
	if c, ok := m.counters[r.Key]; ok && c.WindowStart.Equal(r.WindowStart) && c.Current > 0 {
		c.Current--
	}

	return true, nil
}

func (m *memQuotaRepository) Refund(_ context.Context, assetID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.reservations {
		if r.Status != quota.StatusCommitted || r.AssetID == nil || *r.AssetID != assetID {
			continue
		}
		r.Status = quota.StatusRefunded
		if c, ok := m.counters[r.Key]; ok && r.Key.Period == quota.Lifetime && c.Current > 0 {
			c.Current--
		}
		return true, nil
	}

	return false, nil
}

func (m *memQuotaRepository) Counter(_ context.Context, key quota.Key) (*quota.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memQuotaRepository) StaleReservations(_ context.Context, before time.Time, limit int) (quota.Reservations, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out quota.Reservations
	for _, r := range m.reservations {
		if r.Status == quota.StatusPending && r.CreatedAt.Before(before) && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memQuotaRepository) commit(id uuid.UUID, assetID asset.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != quota.StatusPending {
		return quota.ErrReservationNotFound
	}
	r.Status = quota.StatusCommitted
	r.AssetID = &assetID
	return nil
}

func (m *memQuotaRepository) current(owner asset.OwnerID, ct asset.ContentType, p quota.Period) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[quota.Key{OwnerID: owner, ContentType: ct, Period: p}]; ok {
		return c.Current
	}
	return 0
}

func (m *memQuotaRepository) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reservations {
		if r.Status == quota.StatusPending {
			n++
		}
	}
	return n
}

type memAssetRepository struct {
	mu     sync.Mutex
	quotas *memQuotaRepository
	rows   map[asset.ID]*asset.Asset

	// beforeRecord runs before the duplicate check, outside the lock.
	beforeRecord func(a *asset.Asset)
}

func newMemAssetRepository(quotas *memQuotaRepository) *memAssetRepository {
	return &memAssetRepository{quotas: quotas, rows: map[asset.ID]*asset.Asset{}}
}

func (m *memAssetRepository) FindByDigest(_ context.Context, owner asset.OwnerID, digest string) (*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.OwnerID == owner && a.Digest == digest && a.ContentType.Deduplicated() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAssetRepository) FindByID(_ context.Context, owner asset.OwnerID, id asset.ID) (*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.OwnerID != owner {
		return nil, asset.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAssetRepository) Record(_ context.Context, a *asset.Asset, reservationID uuid.UUID) (*asset.Asset, error) {
	if m.beforeRecord != nil {
		m.beforeRecord(a)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if a.ContentType.Deduplicated() && row.OwnerID == a.OwnerID && row.Digest == a.Digest && row.ContentType.Deduplicated() {
			return nil, asset.ErrDuplicateDigest
		}
	}
	if err := m.quotas.commit(reservationID, a.ID); err != nil {
		return nil, err
	}
	cp := *a
	cp.RefCount = 1
	cp.CreatedAt = time.Now()
	m.rows[cp.ID] = &cp
	out := cp

	return &out, nil
}

func (m *memAssetRepository) Link(_ context.Context, id asset.ID) (*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, asset.ErrNotFound
	}
	a.RefCount++
	cp := *a
	return &cp, nil
}

func (m *memAssetRepository) Delete(_ context.Context, owner asset.OwnerID, id asset.ID) (*asset.Deletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.OwnerID != owner {
		return nil, asset.ErrNotFound
	}
	a.RefCount--
	cp := *a
	d := &asset.Deletion{Asset: &cp}
	if a.RefCount > 0 {
		return d, nil
	}
	delete(m.rows, id)
	d.RowRemoved = true
	d.ObjectOrphaned = true
	for _, row := range m.rows {
		if row.OwnerID == owner && row.Bucket == a.Bucket && row.StorageKey == a.StorageKey {
			d.ObjectOrphaned = false
		}
	}
	return d, nil
}

func (m *memAssetRepository) StorageKeyExists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Bucket == bucket && row.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAssetRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memObject struct {
	data         []byte
	lastModified time.Time
}

// memObjectStore fails the first failPuts Put calls with putErr.
type memObjectStore struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string]memObject
	putCalls int
	failPuts int
	putErr   error
	onPut    func(call int)
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{bucket: "images", objects: map[string]memObject{}}
}

func (m *memObjectStore) Put(_ context.Context, bucket, key, _ string, body []byte) error {
	m.mu.Lock()
	m.putCalls++
	call := m.putCalls
	onPut := m.onPut
	fail := call <= m.failPuts
	m.mu.Unlock()

	if onPut != nil {
		onPut(call)
	}
	if fail {
		return m.putErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = memObject{data: bytes.Clone(body), lastModified: time.Now()}
	return nil
}

func (m *memObjectStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memObjectStore) List(_ context.Context, bucket, _ string, fn func(ports.ObjectInfo) error) error {
	m.mu.Lock()
	var infos []ports.ObjectInfo
	for k, o := range m.objects {
		if b, key, _ := strings.Cut(k, "/"); b == bucket {
			infos = append(infos, ports.ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.lastModified})
		}
	}
	m.mu.Unlock()

	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (m *memObjectStore) PrivateBucket() string { return m.bucket }

func (m *memObjectStore) has(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok
}

func (m *memObjectStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// fakeImages recognises PNG by magic bytes and passes everything through.
type fakeImages struct {
	compressErr error
}

func (f *fakeImages) Sniff(data []byte) string {
	if bytes.HasPrefix(data, pngMagic) {
		return upload.MimePNG
	}
	return "application/octet-stream"
}

func (f *fakeImages) ConvertHEIC(_ context.Context, img *upload.Image) (*upload.Image, error) {
	return nil, errors.New("heic not supported in tests")
}

func (f *fakeImages) Compress(_ context.Context, img *upload.Image) (*upload.Image, error) {
	if f.compressErr != nil {
		return nil, f.compressErr
	}
	return &upload.Image{Data: img.Data, MimeType: img.MimeType, Width: 10, Height: 10}, nil
}

type fakeMQ struct {
	mu     sync.Mutex
	events []mq.Event
}

func (f *fakeMQ) Connect(context.Context, string) error { return nil }
func (f *fakeMQ) Init() error                           { return nil }
func (f *fakeMQ) PublisherWorker(context.Context)       {}
func (f *fakeMQ) GetConn() *amqp091.Connection          { return nil }
func (f *fakeMQ) Publish(e mq.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return true
}

func (f *fakeMQ) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Method)
	}
	return out
}

type fakeSigner struct {
	mu      sync.Mutex
	calls   int
	missing map[string]bool
	err     error
	delay   time.Duration
}

func (f *fakeSigner) Presign(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	if f.missing[bucket] {
		return "", ports.ErrObjectNotFound
	}
	return "https://s3.test/" + bucket + "/" + key + "?sig=" + strconv.Itoa(n), nil
}

func (f *fakeSigner) PublicURL(bucket, key string) string {
	return "https://cdn.test/" + bucket + "/" + key
}

func (f *fakeSigner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAccess struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeAccess) Resolve(context.Context, access.Request) (access.SignedURL, error) {
	return access.SignedURL{}, errors.New("not used")
}

func (f *fakeAccess) ResolveWithRetry(context.Context, access.Request) (access.SignedURL, error) {
	return access.SignedURL{}, errors.New("not used")
}

func (f *fakeAccess) Invalidate(_ context.Context, storageKey, bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, access.CacheKey(bucket, storageKey))
}
