package simsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

type recorder struct {
	mu      sync.Mutex
	updates []ports.Update
}

func (r *recorder) cb(u ports.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []ports.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Update(nil), r.updates...)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	ctx := context.Background()
	s := New()
	var a, b recorder
	ha, err := s.Subscribe(ctx, "pv:a", ports.ModeAllUpdates, a.cb)
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, "pv:b", ports.ModeAllUpdates, b.cb)
	require.NoError(t, err)

	s.Value("pv:a", 1.0)
	s.Value("pv:a", 2.0)
	require.Len(t, a.all(), 2)
	require.Empty(t, b.all())
	require.Equal(t, 1, s.Active("pv:a"))

	require.NoError(t, s.Unsubscribe(ctx, ha))
	s.Value("pv:a", 3.0)
	require.Len(t, a.all(), 2)
	require.Zero(t, s.Active("pv:a"))
}

func TestAlarmOnlySkipsUnchangedSeverity(t *testing.T) {
	ctx := context.Background()
	s := New()
	var r recorder
	_, err := s.Subscribe(ctx, "pv", ports.ModeAlarmOnly, r.cb)
	require.NoError(t, err)

	s.Value("pv", 1.0)
	s.Value("pv", 2.0)
	s.Publish("pv", ports.Update{Value: 3.0, Connected: true, Severity: domain.SeverityMajor})
	s.Disconnect("pv")
	require.Len(t, r.all(), 3)
}

func TestSpuriousDisconnect(t *testing.T) {
	ctx := context.Background()
	s := New(WithSpuriousDisconnect())
	var r recorder
	h, err := s.Subscribe(ctx, "pv", ports.ModeAllUpdates, r.cb)
	require.NoError(t, err)
	require.NoError(t, s.Unsubscribe(ctx, h))

	got := r.all()
	require.Len(t, got, 1)
	require.False(t, got[0].Connected)
}

func TestRefuseAndConnectOnSubscribe(t *testing.T) {
	ctx := context.Background()
	s := New(WithConnectOnSubscribe())
	s.Refuse("bad")
	_, err := s.Subscribe(ctx, "bad", ports.ModeAllUpdates, func(ports.Update) {})
	require.ErrorIs(t, err, ErrSubscribeRefused)

	s.Value("pv", 5.0)
	var r recorder
	_, err = s.Subscribe(ctx, "pv", ports.ModeAllUpdates, r.cb)
	require.NoError(t, err)
	require.Len(t, r.all(), 1)
	require.Equal(t, 2, s.SubscribeCalls())
}

func TestSimulateStopsWithContext(t *testing.T) {
	s := New()
	var r recorder
	_, err := s.Subscribe(context.Background(), "sim:1", ports.ModeAllUpdates, r.cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Simulate(ctx, []string{"sim:1"}, 5*time.Millisecond, 1)

	got := r.all()
	require.NotEmpty(t, got)
	require.NotNil(t, got[0].Metadata)
	for _, u := range got {
		v := u.Value.(float64)
		require.True(t, v >= 0 && v <= 100)
	}
}
