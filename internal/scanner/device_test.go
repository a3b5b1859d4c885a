package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/attendance"
	"qrattendance/internal/attendance/memstore"
	"qrattendance/internal/audit"
	"qrattendance/internal/metrics"
	"qrattendance/internal/qrpayload"
	"qrattendance/internal/queue"
	"qrattendance/internal/section"
)

const rawScan = "NHEM DAY G. ACLO 2023300076 BSIT"

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type blockingStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) GetActiveSession(ctx context.Context, studentID, sectionID, date string) (*attendance.Session, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Store.GetActiveSession(ctx, studentID, sectionID, date)
}

type fakeSections struct {
	mu    sync.Mutex
	saved map[string]section.Section
}

var _ SectionStore = (*fakeSections)(nil)

func (f *fakeSections) SaveSection(_ context.Context, id string, s section.Section) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = s
	return nil
}

func (f *fakeSections) LoadSection(_ context.Context, id string) (*section.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSections) ClearSection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.UpsertSection(context.Background(), section.Section{ID: "bsit-3a", Name: "BSIT-3A"}))
	return store
}

func TestDeviceScanRequiresSection(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	reg := NewRegistry(attendance.NewEngine(store, attendance.Options{Location: time.UTC}, nil), store)
	dev := reg.Device(ctx, "kiosk-1")

	d, err := dev.Scan(ctx, rawScan, t0)
	require.NoError(t, err)
	assert.Equal(t, attendance.NoSectionSelected, d.Kind)

	_, err = dev.SelectSection(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSection)

	_, err = dev.SelectSection(ctx, "bsit-3a")
	require.NoError(t, err)
	d, err = dev.Scan(ctx, rawScan, t0)
	require.NoError(t, err)
	assert.Equal(t, attendance.CheckIn, d.Kind)

	dev.ClearSection(ctx)
	_, ok := dev.CurrentSection()
	assert.False(t, ok)
}

func TestDeviceScanRejectsBadPayload(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	reg := NewRegistry(attendance.NewEngine(store, attendance.Options{}, nil), store)
	dev := reg.Device(ctx, "kiosk-1")

	_, err := dev.Scan(ctx, "JUST TWO", t0)
	assert.ErrorIs(t, err, qrpayload.ErrMalformed)

	_, err = dev.Scan(ctx, "JANE DOE 12345 BSIT", t0)
	assert.ErrorIs(t, err, qrpayload.ErrInvalidField)
}

func TestDeviceBusyDropsConcurrentScan(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{Store: seeded(t), entered: make(chan struct{}), release: make(chan struct{})}
	reg := metrics.New(prometheus.NewRegistry())
	registry := NewRegistry(attendance.NewEngine(store, attendance.Options{Location: time.UTC}, nil), store, WithMetrics(reg))
	dev := registry.Device(ctx, "kiosk-1")
	_, err := dev.SelectSection(ctx, "bsit-3a")
	require.NoError(t, err)

	first := make(chan attendance.Decision, 1)
	go func() {
		d, err := dev.Scan(ctx, rawScan, t0)
		assert.NoError(t, err)
		first <- d
	}()
	<-store.entered

	d, err := dev.Scan(ctx, rawScan, t0)
	require.NoError(t, err)
	assert.Equal(t, attendance.Busy, d.Kind)

	_, err = dev.Logout(ctx, "whatever", t0, 0)
	assert.ErrorIs(t, err, ErrBusy)

	close(store.release)
	assert.Equal(t, attendance.CheckIn, (<-first).Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Scans.WithLabelValues("busy")))
	assert.Equal(t, 1, len(store.Sessions()))

	other := registry.Device(ctx, "kiosk-2")
	_, err = other.SelectSection(ctx, "bsit-3a")
	require.NoError(t, err)
	d, err = other.Scan(ctx, rawScan, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, attendance.AlreadyActive, d.Kind, "other devices are not blocked")
}

func TestDeviceLogoutPublishesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := seeded(t)
	q := queue.NewInMemory(16)
	go func() { _ = audit.NewConsumer(q, store, nil, nil).Run(ctx) }()

	var seen []attendance.Kind
	var mu sync.Mutex
	registry := NewRegistry(
		attendance.NewEngine(store, attendance.Options{Location: time.UTC}, nil),
		store,
		WithPublisher(audit.NewPublisher(q, nil)),
		WithListener(func(_ string, d attendance.Decision) {
			mu.Lock()
			seen = append(seen, d.Kind)
			mu.Unlock()
		}),
	)
	dev := registry.Device(ctx, "kiosk-1")
	_, err := dev.SelectSection(ctx, "bsit-3a")
	require.NoError(t, err)

	d, err := dev.Scan(ctx, rawScan, t0)
	require.NoError(t, err)
	res, err := dev.Logout(ctx, d.Session.ID, t0.Add(10*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, attendance.LogoutTooEarly, res.Outcome)
	res, err = dev.Logout(ctx, d.Session.ID, t0.Add(61*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, attendance.LogoutSuccess, res.Outcome)

	require.Eventually(t, func() bool {
		events, _ := store.ListScanEvents(ctx, "kiosk-1", "", 10, 0)
		return len(events) == 3
	}, 2*time.Second, 10*time.Millisecond)
	events, _ := store.ListScanEvents(ctx, "kiosk-1", "", 10, 0)
	assert.Equal(t, "logout_success", events[0].Decision)
	assert.Equal(t, "logout_too_early", events[1].Decision)
	assert.Equal(t, "check_in", events[2].Decision)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []attendance.Kind{attendance.CheckIn}, seen)
}

func TestRegistryRestoresSection(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	sections := &fakeSections{saved: map[string]section.Section{}}
	engine := attendance.NewEngine(store, attendance.Options{}, nil)

	first := NewRegistry(engine, store, WithSectionStore(sections))
	_, err := first.Device(ctx, "kiosk-1").SelectSection(ctx, "bsit-3a")
	require.NoError(t, err)
	assert.Same(t, first.Device(ctx, "kiosk-1"), first.Device(ctx, "kiosk-1"))

	restarted := NewRegistry(engine, store, WithSectionStore(sections))
	cur, ok := restarted.Device(ctx, "kiosk-1").CurrentSection()
	require.True(t, ok)
	assert.Equal(t, "bsit-3a", cur.ID)

	restarted.Device(ctx, "kiosk-1").ClearSection(ctx)
	_, ok = NewRegistry(engine, store, WithSectionStore(sections)).Device(ctx, "kiosk-1").CurrentSection()
	assert.False(t, ok)
	assert.Equal(t, 1, restarted.Len())
}

type slowSections struct {
	fakeSections
	release chan struct{}
}

func (s *slowSections) LoadSection(ctx context.Context, id string) (*section.Section, error) {
	if id == "slow" {
		<-s.release
	}
	return s.fakeSections.LoadSection(ctx, id)
}

func TestRegistrySlowRestoreDoesNotBlockOtherDevices(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	engine := attendance.NewEngine(store, attendance.Options{}, nil)
	sections := &slowSections{
		fakeSections: fakeSections{saved: map[string]section.Section{"slow": {ID: "bsit-3a", Name: "BSIT-3A"}}},
		release:      make(chan struct{}),
	}
	reg := NewRegistry(engine, store, WithSectionStore(sections))

	slow := make(chan *Device, 2)
	for i := 0; i < 2; i++ {
		go func() { slow <- reg.Device(ctx, "slow") }()
	}

	fast := make(chan *Device, 1)
	go func() { fast <- reg.Device(ctx, "fast") }()
	select {
	case d := <-fast:
		assert.Equal(t, "fast", d.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("device lookup blocked behind a pending section restore")
	}

	close(sections.release)
	a, b := <-slow, <-slow
	assert.Same(t, a, b, "concurrent first lookups share one device")
	cur, ok := a.CurrentSection()
	require.True(t, ok)
	assert.Equal(t, "bsit-3a", cur.ID)
	assert.Equal(t, 2, reg.Len())
}
