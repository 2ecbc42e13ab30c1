package aegisarchive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/AegisArchive/internal/adapters/facade"
	"github.com/ghalamif/AegisArchive/internal/adapters/observability"
	"github.com/ghalamif/AegisArchive/internal/domain"
)

func testBatch() []*domain.Sample {
	return []*domain.Sample{
		{ChannelID: 7, Seq: 1, Timestamp: time.Unix(1, 0), Value: domain.Value{Kind: domain.KindDouble, Num: 3.14}},
		{ChannelID: 7, Seq: 2, Timestamp: time.Unix(2, 0), Value: domain.Value{Kind: domain.KindString, Str: "on"}, Severity: domain.SeverityMajor},
	}
}

func TestTapFacadeDeliversAcceptedBatches(t *testing.T) {
	var got []Batch
	tf := &tapFacade{
		Facade: facade.NewMemory(),
		fn: func(b Batch) error {
			got = append(got, b)
			return nil
		},
		obs: observability.Nop{},
	}

	if err := tf.WriteSamples(context.Background(), 7, testBatch()); err != nil {
		t.Fatalf("WriteSamples returned error: %v", err)
	}
	if len(got) != 1 || len(got[0].Samples) != 2 {
		t.Fatalf("unexpected tap payload: %+v", got)
	}
	first, second := got[0].Samples[0], got[0].Samples[1]
	if got[0].ChannelID != 7 || first.Seq != 1 || first.Numeric != 3.14 || first.Value != "3.14" {
		t.Fatalf("mismatched sample payload: %+v", first)
	}
	if second.Value != "on" || second.Severity != "MAJOR" {
		t.Fatalf("mismatched sample payload: %+v", second)
	}
}

func TestTapFacadeSkipsFailedWrites(t *testing.T) {
	mem := facade.NewMemory()
	mem.FailSamples(ErrBackendError)
	called := false
	tf := &tapFacade{Facade: mem, fn: func(Batch) error { called = true; return nil }, obs: observability.Nop{}}

	if err := tf.WriteSamples(context.Background(), 7, testBatch()); !errors.Is(err, ErrBackendError) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if called {
		t.Fatalf("tap must not see rejected batches")
	}
}

func TestTapFailureDoesNotFailWrite(t *testing.T) {
	tf := &tapFacade{
		Facade: facade.NewMemory(),
		fn:     func(Batch) error { return errors.New("boom") },
		obs:    observability.Nop{},
	}
	if err := tf.WriteSamples(context.Background(), 7, testBatch()); err != nil {
		t.Fatalf("tap failure leaked into write: %v", err)
	}
}

func TestChannelTapDeliversBatches(t *testing.T) {
	send, ch, closeFn := NewChannelTap(1)
	defer closeFn()

	if err := send(Batch{ChannelID: 1}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	select {
	case b := <-ch:
		if b.ChannelID != 1 {
			t.Fatalf("unexpected batch %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for batch")
	}
}

func TestChannelTapClosed(t *testing.T) {
	send, ch, closeFn := NewChannelTap(0)
	closeFn()
	closeFn()

	if err := send(Batch{ChannelID: 1}); !errors.Is(err, ErrTapClosed) {
		t.Fatalf("expected ErrTapClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestChannelTapCloseUnblocksSender(t *testing.T) {
	send, _, closeFn := NewChannelTap(0)

	done := make(chan error, 1)
	go func() { done <- send(Batch{ChannelID: 1}) }()

	time.Sleep(10 * time.Millisecond)
	closeFn()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTapClosed) {
			t.Fatalf("expected ErrTapClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sender still blocked after close")
	}
}
