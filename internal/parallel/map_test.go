package parallel_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"testing/synctest"
	"time"

	"github.com/obsreg/importer/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(_ context.Context, d time.Duration) (int, error) {
		time.Sleep(d)
		return int(d), nil
	}

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	expected := []int{
		int(1 * time.Second),
		int(2 * time.Second),
		int(5 * time.Second),
		int(10 * time.Second),
	}

	var testCases = []struct {
		scenario string
		limit    int
		then     time.Duration
	}{
		{"limit 0", 0, 18 * time.Second},
		{"limit 1", 1, 18 * time.Second},
		{"limit 2", 2, 12 * time.Second},
		{"limit 10", 10, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				m := parallel.NewMap(t.Context(), tt.limit, f).Iter(all(input))
				require.ElementsMatch(t, expected, values(m))
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestMapErrors(t *testing.T) {
	t.Parallel()
	errOdd := errors.New("odd")
	errInput := errors.New("input")

	f := func(_ context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, errOdd
		}
		return n * 10, nil
	}
	input := func(yield func(int, error) bool) {
		for _, n := range []int{1, 2, 3, 4} {
			if !yield(n, nil) {
				return
			}
		}
		yield(0, errInput)
	}

	var got []int
	var errs []error
	for d, err := range parallel.NewMap(t.Context(), 2, f).Iter(input) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, d)
	}
	require.ElementsMatch(t, []int{20, 40}, got)
	require.ElementsMatch(t, []error{errOdd, errOdd, errInput}, errs)
}

func TestMapBreak(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		f := func(ctx context.Context, d time.Duration) (time.Duration, error) {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(d):
				return d, nil
			}
		}
		input := []time.Duration{time.Second, time.Hour, time.Hour, time.Hour}

		start := time.Now()
		for d, err := range parallel.NewMap(t.Context(), 4, f).Iter(all(input)) {
			require.NoError(t, err)
			require.Equal(t, time.Second, d)
			break
		}
		require.Equal(t, time.Second, time.Since(start))
	})
}

func TestMapCanceled(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
		defer cancel()
		f := func(ctx context.Context, d time.Duration) (time.Duration, error) {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(d):
				return d, nil
			}
		}
		input := []time.Duration{time.Second, 5 * time.Second, 10 * time.Second}

		start := time.Now()
		got := values(parallel.NewMap(ctx, 1, f).Iter(all(input)))
		require.Equal(t, []time.Duration{time.Second}, got)
		require.Equal(t, 3*time.Second, time.Since(start))
	})
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}

func values[T any](i iter.Seq2[T, error]) []T {
	var ret []T
	for k, err := range i {
		if err != nil {
			continue
		}
		ret = append(ret, k)
	}
	return ret
}
