package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisArchive/internal/adapters/simsub"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

type resultLog struct {
	mu      sync.Mutex
	results []float64
}

func (r *resultLog) listen(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, v)
}

func (r *resultLog) all() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.results...)
}

func TestFilterTwoVariables(t *testing.T) {
	ctx := context.Background()
	sub := simsub.New()
	obs := newRecordingObs()
	var log resultLog

	f, err := NewFilter("2*A > B", sub, obs, FilterOptions{}, log.listen)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, f.Variables())

	res, evaluated := f.Result()
	require.False(t, evaluated)
	require.True(t, math.IsNaN(res), "result is indeterminate before any update")

	require.NoError(t, f.Start(ctx))
	require.Equal(t, 1, sub.Active("A"))
	require.Equal(t, 1, sub.Active("B"))

	sub.Value("A", 3.0)
	res, evaluated = f.Result()
	require.True(t, evaluated)
	require.False(t, math.IsNaN(res))
	require.Equal(t, 0.0, res)

	sub.Value("B", 5.0)
	res, _ = f.Result()
	require.Equal(t, 1.0, res)

	sub.Publish("B", ports.Update{Connected: true, Err: errors.New("read failed")})
	res, _ = f.Result()
	require.Equal(t, 0.0, res)
	require.True(t, obs.warned("filter_source_error"))

	require.Equal(t, []float64{0, 1, 0}, log.all())
	require.Equal(t, float64(3), obs.counter(ports.MetricFilterEvaluations))
}

func TestFilterNotifiesEveryUpdateUnlessSuppressed(t *testing.T) {
	ctx := context.Background()

	for _, suppress := range []bool{false, true} {
		sub := simsub.New()
		var log resultLog
		f, err := NewFilter("A > 0", sub, newRecordingObs(), FilterOptions{SuppressUnchanged: suppress}, log.listen)
		require.NoError(t, err)
		require.NoError(t, f.Start(ctx))

		sub.Value("A", 1.0)
		sub.Value("A", 2.0)
		sub.Value("A", -1.0)

		if suppress {
			require.Equal(t, []float64{1, 0}, log.all())
		} else {
			require.Equal(t, []float64{1, 1, 0}, log.all())
		}
	}
}

func TestFilterEnvNamesAndBuiltins(t *testing.T) {
	f, err := NewFilter(`abs($env["vac:p1"]) > max(B, 1) && B == B`, simsub.New(), newRecordingObs(), FilterOptions{}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"vac:p1", "B"}, f.Variables())
}

func TestFilterDisconnectSetsNaN(t *testing.T) {
	sub := simsub.New()
	var log resultLog
	f, err := NewFilter("A", sub, newRecordingObs(), FilterOptions{}, log.listen)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	sub.Value("A", 4.0)
	sub.Disconnect("A")

	got := log.all()
	require.Len(t, got, 2)
	require.Equal(t, 4.0, got[0])
	require.True(t, math.IsNaN(got[1]))
}

func TestFilterNonNumericResultIsNaN(t *testing.T) {
	sub := simsub.New()
	var log resultLog
	f, err := NewFilter(`A > 0 ? "on" : "off"`, sub, newRecordingObs(), FilterOptions{}, log.listen)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	sub.Value("A", 1.0)
	require.True(t, math.IsNaN(log.all()[0]))
}

func TestFilterInvalidExpression(t *testing.T) {
	_, err := NewFilter("A +", simsub.New(), newRecordingObs(), FilterOptions{}, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewFilter(`A + "x"`, simsub.New(), newRecordingObs(), FilterOptions{}, nil)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestFilterConstantEvaluatesOnStart(t *testing.T) {
	var log resultLog
	f, err := NewFilter("1 > 0", simsub.New(), newRecordingObs(), FilterOptions{}, log.listen)
	require.NoError(t, err)
	require.Empty(t, f.Variables())
	require.NoError(t, f.Start(context.Background()))
	require.Equal(t, []float64{1}, log.all())
}

func TestFilterStopUnsubscribes(t *testing.T) {
	ctx := context.Background()
	sub := simsub.New(simsub.WithSpuriousDisconnect())
	var log resultLog
	f, err := NewFilter("A + B", sub, newRecordingObs(), FilterOptions{}, log.listen)
	require.NoError(t, err)

	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.Stop(ctx))
	require.NoError(t, f.Stop(ctx))
	require.Zero(t, sub.Active("A"))
	require.Zero(t, sub.Active("B"))

	sub.Value("A", 1.0)
	require.Empty(t, log.all())

	require.NoError(t, f.Start(ctx))
	sub.Value("A", 1.0)
	sub.Value("B", 2.0)
	got := log.all()
	require.Len(t, got, 2)
	require.True(t, math.IsNaN(got[0]))
	require.Equal(t, 3.0, got[1])
}

func TestFilterStartFailureRollsBack(t *testing.T) {
	sub := simsub.New()
	sub.Refuse("B")
	f, err := NewFilter("A < B", sub, newRecordingObs(), FilterOptions{}, nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.Start(context.Background()), simsub.ErrSubscribeRefused)
	require.Zero(t, sub.Active("A"))
}

func TestFilterConcurrentUpdatesAreSerialised(t *testing.T) {
	sub := simsub.New()
	var log resultLog
	f, err := NewFilter("A + B", sub, newRecordingObs(), FilterOptions{}, log.listen)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	const n = 200
	var wg sync.WaitGroup
	for _, name := range []string{"A", "B"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				sub.Value(name, 1.0)
			}
		}(name)
	}
	wg.Wait()

	got := log.all()
	require.Len(t, got, 2*n)
	require.Equal(t, 2.0, got[len(got)-1])
}
