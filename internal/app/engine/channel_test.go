package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisArchive/internal/adapters/facade"
	"github.com/ghalamif/AegisArchive/internal/adapters/simsub"
	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

type channelFixture struct {
	ch  *Channel
	sub *simsub.Subscriber
	mem *facade.Memory
	obs *recordingObs
}

func newChannelFixture(t *testing.T, capacity int, opts ...simsub.Option) *channelFixture {
	t.Helper()
	f := &channelFixture{
		sub: simsub.New(opts...),
		mem: facade.NewMemory(),
		obs: newRecordingObs(),
	}
	f.ch = NewChannel(domain.ChannelConfig{ID: 1, Name: "vac:p1", BufferCapacity: capacity}, ChannelDeps{
		EngineID:   7,
		Subscriber: f.sub,
		Status:     f.mem,
		Obs:        f.obs,
		Policy:     testPolicy(),
	})
	return f
}

func TestChannelBufferKeepsNewest(t *testing.T) {
	f := newChannelFixture(t, 3)
	require.NoError(t, f.ch.Start(context.Background(), "test"))

	for v := 10; v <= 14; v++ {
		f.sub.Value("vac:p1", float64(v))
	}

	batch := f.ch.Buffer().Drain(10)
	require.Equal(t, []float64{12, 13, 14}, values(batch))
	require.Equal(t, uint64(2), f.ch.Buffer().DroppedCount())
	require.Equal(t, uint64(5), f.ch.Received())
	require.Equal(t, float64(2), f.obs.counter(ports.MetricBufferDropped))
	require.Empty(t, f.ch.Buffer().Drain(10))

	for i, s := range batch[1:] {
		require.Greater(t, s.Seq, batch[i].Seq)
	}
}

func TestChannelStopStartStopWritesTwoMonitorRecords(t *testing.T) {
	ctx := context.Background()
	f := newChannelFixture(t, 10, simsub.WithSpuriousDisconnect())

	require.NoError(t, f.ch.Stop(ctx, "initial stop"))
	require.NoError(t, f.ch.Start(ctx, "operator start"))
	f.sub.Value("vac:p1", 1.0)
	require.True(t, f.ch.IsConnected())
	require.NoError(t, f.ch.Stop(ctx, "operator stop"))

	records := f.mem.MonitorRecords(1)
	require.Equal(t, []domain.MonitorMode{domain.MonitorOn, domain.MonitorOff}, monitorModes(records))
	require.Equal(t, "operator start", records[0].Info)
	require.Equal(t, domain.EngineID(7), records[0].EngineID)

	conn := f.mem.ConnectionRecords(1)
	require.Len(t, conn, 1, "spurious disconnect during stop must not be recorded")
	require.True(t, conn[0].Connected)
	require.Equal(t, StateStopped, f.ch.State())
	require.False(t, f.ch.IsConnected())
}

func TestChannelDisconnectWhenNotConnectedIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newChannelFixture(t, 10)
	require.NoError(t, f.ch.Start(ctx, "start"))

	f.sub.Disconnect("vac:p1")
	require.Empty(t, f.mem.ConnectionRecords(1))
	require.Equal(t, StateStarting, f.ch.State())
}

func TestChannelConnectionCycle(t *testing.T) {
	ctx := context.Background()
	f := newChannelFixture(t, 10)
	require.NoError(t, f.ch.Start(ctx, "start"))

	f.sub.Publish("vac:p1", ports.Update{
		Value:     2.5,
		Connected: true,
		StateInfo: "CONNECTED",
		Timestamp: time.Now(),
		Metadata:  &domain.Metadata{DisplayLow: -1, DisplayHigh: 10},
	})
	require.Equal(t, StateConnected, f.ch.State())
	require.Equal(t, "CONNECTED", f.ch.InternalState())
	rng, ok := f.mem.DisplayRange(1)
	require.True(t, ok)
	require.Equal(t, facade.DisplayRange{Low: -1, High: 10}, rng)

	f.sub.Disconnect("vac:p1")
	f.sub.Disconnect("vac:p1")
	require.Equal(t, StateDisconnected, f.ch.State())

	f.sub.Value("vac:p1", 3.0)
	conn := f.mem.ConnectionRecords(1)
	require.Len(t, conn, 3)
	require.True(t, conn[0].Connected)
	require.False(t, conn[1].Connected)
	require.True(t, conn[2].Connected)
	require.Equal(t, "3", f.ch.CurrentValueString())
}

func TestChannelMalformedUpdateLeavesMostRecent(t *testing.T) {
	f := newChannelFixture(t, 10)
	require.NoError(t, f.ch.Start(context.Background(), "start"))

	f.sub.Value("vac:p1", 4.0)
	before := f.ch.MostRecent()
	require.NotNil(t, before)

	f.sub.Value("vac:p1", struct{ X int }{1})
	f.sub.Publish("vac:p1", ports.Update{Connected: true, Err: fmt.Errorf("bad read")})

	require.Same(t, before, f.ch.MostRecent())
	require.Equal(t, uint64(2), f.ch.DecodeFailures())
	require.Equal(t, float64(2), f.obs.counter(ports.MetricDecodeFailures))
	require.Equal(t, uint64(1), f.ch.Received())
	require.Equal(t, 1, f.ch.Buffer().Size())
}

func TestChannelFlagsClockRegression(t *testing.T) {
	f := newChannelFixture(t, 10)
	require.NoError(t, f.ch.Start(context.Background(), "start"))

	now := time.Now()
	f.sub.Publish("vac:p1", ports.Update{Value: 1.0, Connected: true, Timestamp: now})
	f.sub.Publish("vac:p1", ports.Update{Value: 2.0, Connected: true, Timestamp: now.Add(-time.Second)})
	f.sub.Publish("vac:p1", ports.Update{Value: 3.0, Connected: true, Timestamp: now.Add(time.Second)})

	batch := f.ch.Buffer().Drain(0)
	require.Len(t, batch, 3)
	require.False(t, batch[0].ClockRegression)
	require.True(t, batch[1].ClockRegression)
	require.Equal(t, now.Add(-time.Second), batch[1].Timestamp)
	require.False(t, batch[2].ClockRegression)
}

func TestChannelStartRecordFailureKeepsAcquiring(t *testing.T) {
	f := newChannelFixture(t, 10)
	f.mem.FailStatus(fmt.Errorf("db down: %w", ports.ErrBackendUnavailable))

	err := f.ch.Start(context.Background(), "start")
	require.ErrorIs(t, err, ports.ErrBackendUnavailable)
	require.True(t, f.ch.IsStarted())

	f.sub.Value("vac:p1", 1.0)
	require.True(t, f.ch.IsConnected())
	require.Equal(t, 1, f.ch.Buffer().Size())
	require.Equal(t, float64(2), f.obs.counter(ports.MetricStatusFailures))
}

func TestChannelSubscribeFailure(t *testing.T) {
	f := newChannelFixture(t, 10)
	f.sub.Refuse("vac:p1")
	err := f.ch.Start(context.Background(), "start")
	require.ErrorIs(t, err, simsub.ErrSubscribeRefused)
	require.Equal(t, StateStopped, f.ch.State())
}

func TestChannelResetAndValueStrings(t *testing.T) {
	f := newChannelFixture(t, 2)
	require.Equal(t, "null", f.ch.CurrentValueString())
	require.Equal(t, "null", f.ch.LastArchivedValueString())
	require.Equal(t, "MONITOR (on change)", f.ch.Mechanism())

	require.NoError(t, f.ch.Start(context.Background(), "start"))
	for i := 0; i < 4; i++ {
		f.sub.Value("vac:p1", float64(i))
	}
	batch := f.ch.Buffer().Drain(1)
	f.ch.MarkPersisted(batch[0])
	require.Equal(t, "2", f.ch.LastArchivedValueString())

	f.ch.Reset()
	require.Zero(t, f.ch.Received())
	require.Zero(t, f.ch.Buffer().DroppedCount())
	require.Equal(t, 1, f.ch.Buffer().Size())
	require.True(t, f.ch.IsConnected())
}

func TestChannelConcurrentStartStop(t *testing.T) {
	ctx := context.Background()
	f := newChannelFixture(t, 100, simsub.WithSpuriousDisconnect())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			f.sub.Value("vac:p1", float64(i))
			if i%7 == 0 {
				f.sub.Disconnect("vac:p1")
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					_ = f.ch.Start(ctx, "start")
				} else {
					_ = f.ch.Stop(ctx, "stop")
				}
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
	require.NoError(t, f.ch.Stop(ctx, "final"))

	modes := monitorModes(f.mem.MonitorRecords(1))
	require.NotEmpty(t, modes)
	for i, m := range modes {
		want := domain.MonitorOn
		if i%2 == 1 {
			want = domain.MonitorOff
		}
		require.Equal(t, want, m, "record %d", i)
	}
	require.Equal(t, domain.MonitorOff, modes[len(modes)-1])
}

// gatedStatus logs status records in order and parks the first
// connected=true record until release is closed.
type gatedStatus struct {
	mu      sync.Mutex
	log     []string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStatus() *gatedStatus {
	return &gatedStatus{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStatus) add(rec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, rec)
}

func (s *gatedStatus) records() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *gatedStatus) WriteConnectionInfo(_ context.Context, _ domain.ChannelID, connected bool, _ string, _ time.Time) error {
	if !connected {
		s.add("disconnected")
		return nil
	}
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.add("connected")
	return nil
}

func (s *gatedStatus) WriteMonitorModeInfo(_ context.Context, _ domain.ChannelID, mode domain.MonitorMode, _ domain.EngineID, _ time.Time, _ string) error {
	if mode == domain.MonitorOn {
		s.add("on")
	} else {
		s.add("off")
	}
	return nil
}

func (s *gatedStatus) WriteDisplayRangeInfo(context.Context, domain.ChannelID, float64, float64) error {
	s.add("range")
	return nil
}

func TestChannelStopWaitsForInFlightConnectRecord(t *testing.T) {
	ctx := context.Background()
	sub := simsub.New()
	status := newGatedStatus()
	ch := NewChannel(domain.ChannelConfig{ID: 1, Name: "vac:p1"}, ChannelDeps{
		Subscriber: sub,
		Status:     status,
		Obs:        newRecordingObs(),
		Policy:     testPolicy(),
	})
	require.NoError(t, ch.Start(ctx, "start"))

	published := make(chan struct{})
	go func() {
		defer close(published)
		sub.Value("vac:p1", 1.0)
	}()
	<-status.entered

	stopped := make(chan error, 1)
	go func() { stopped <- ch.Stop(ctx, "stop") }()
	select {
	case err := <-stopped:
		t.Fatalf("Stop finished while a connect record was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(status.release)
	require.NoError(t, <-stopped)
	<-published

	require.Equal(t, []string{"on", "connected", "off"}, status.records())
	require.Equal(t, StateStopped, ch.State())
	require.False(t, ch.IsConnected())
	require.Zero(t, ch.Buffer().Size())
}

func TestChannelStaleConnectWritesNothing(t *testing.T) {
	ctx := context.Background()
	sub := simsub.New()
	status := newGatedStatus()
	close(status.release)
	ch := NewChannel(domain.ChannelConfig{ID: 1, Name: "vac:p1"}, ChannelDeps{
		Subscriber: sub,
		Status:     status,
		Obs:        newRecordingObs(),
		Policy:     testPolicy(),
	})
	require.NoError(t, ch.Start(ctx, "start"))
	cb := ch.callback(1)
	require.NoError(t, ch.Stop(ctx, "stop"))

	cb(ports.Update{Value: 1.0, Connected: true, Timestamp: time.Now(), Metadata: &domain.Metadata{DisplayLow: 0, DisplayHigh: 1}})
	require.Equal(t, []string{"on", "off"}, status.records())
}
