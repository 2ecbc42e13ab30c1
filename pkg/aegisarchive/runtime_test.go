package aegisarchive

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ghalamif/AegisArchive/internal/adapters/facade"
	"github.com/ghalamif/AegisArchive/internal/adapters/observability"
	"github.com/ghalamif/AegisArchive/internal/adapters/simsub"
	"github.com/ghalamif/AegisArchive/internal/adapters/wal"
	"github.com/ghalamif/AegisArchive/internal/domain"
)

func testConfig() *Config {
	return &Config{
		Engine: EngineSection{Name: "main"},
		Source: SourceConfig{Kind: SourceSim, SimPeriod: time.Hour},
		Policy: Policy{WritePeriod: 5 * time.Millisecond, FacadeTimeout: time.Second},
	}
}

func seededMemory() *facade.Memory {
	mem := facade.NewMemory()
	mem.AddEngine(domain.EngineConfig{ID: 1, Name: "main"})
	mem.AddGroup(1, domain.GroupConfig{ID: 1, Name: "all"})
	mem.AddChannel(1, domain.ChannelConfig{ID: 7, Name: "temp"})
	return mem
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	mem := seededMemory()
	sub := simsub.New()

	rt, err := NewRuntime(testConfig(),
		WithFacade(mem),
		WithSubscriber(sub),
		WithFilterSubscriber(sub),
		WithObservability(observability.Nop{}),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if rt.sim != nil {
		t.Fatalf("expected custom subscriber to replace the simulator")
	}

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if sub.Active("temp") != 1 {
		t.Fatalf("expected channel temp to be subscribed")
	}

	sub.Value("temp", 21.5)
	sub.Value("temp", 22.0)

	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if got := len(mem.Samples(7)); got != 2 {
		t.Fatalf("expected 2 archived samples, got %d", got)
	}
	if sub.Active("temp") != 0 {
		t.Fatalf("expected channel temp to be unsubscribed")
	}
}

func TestRuntimeUnknownEngineFailsStart(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Name = "other"

	rt, err := NewRuntime(cfg, WithFacade(seededMemory()), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Start(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRuntimeInlineCatalogAndSimulator(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
engine:
  name: demo
source:
  kind: sim
  sim_period: 5ms
catalog:
  engines:
    - name: demo
      groups:
        - name: g
          channels:
            - name: a
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.Metrics.Addr = ""

	mem := facade.NewMemory()
	rt, err := NewRuntime(cfg, WithFacade(mem), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if rt.sim == nil {
		t.Fatalf("expected simulated source")
	}

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	ch, ok := rt.Engine().Channel("a")
	if !ok {
		t.Fatalf("channel a not loaded")
	}
	deadline := time.Now().Add(2 * time.Second)
	for ch.Received() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("simulator never delivered a value")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if len(mem.Samples(ch.ID())) == 0 {
		t.Fatalf("expected simulated samples to be archived")
	}
}

func TestRuntimeSpoolsWhileBackendDown(t *testing.T) {
	mem := seededMemory()
	mem.FailSamples(ErrBackendUnavailable)
	sub := simsub.New()

	w, err := wal.NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileWAL: %v", err)
	}
	defer w.Close()

	rt, err := NewRuntime(testConfig(),
		WithFacade(mem),
		WithSubscriber(sub),
		WithWAL(w),
		WithObservability(observability.Nop{}),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	sub.Value("temp", 1.0)

	deadline := time.Now().Add(2 * time.Second)
	for !w.Stats().Pending() {
		if time.Now().After(deadline) {
			t.Fatalf("sample never spooled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mem.FailSamples(nil)
	deadline = time.Now().Add(2 * time.Second)
	for len(mem.Samples(7)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("spooled sample never replayed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
