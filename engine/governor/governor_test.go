package governor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	acquired []int
	denied   int
	extended [][2]int
}

func (r *recordingObserver) SlotAcquired(_ context.Context, _ string, slot, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, slot)
}

func (r *recordingObserver) BudgetDenied(_ context.Context, _ string, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied++
}

func (r *recordingObserver) LimitExtended(_ context.Context, _ string, from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extended = append(r.extended, [2]int{from, to})
}

func mustNew(t *testing.T, l Limits, opts ...Option) *Governor {
	t.Helper()
	g, err := New(l, opts...)
	require.NoError(t, err)
	return g
}

var poor = quality.Verdict{IsPoor: true}

func TestGovernor_Acquire(t *testing.T) {
	t.Run("Should grant increasing slots up to the limit then deny", func(t *testing.T) {
		obs := &recordingObserver{}
		g := mustNew(t, Limits{Initial: 3, Extended: 6}, WithObserver(obs), WithAgent("document"))
		for want := 1; want <= 3; want++ {
			slot, err := g.Acquire(t.Context())
			require.NoError(t, err)
			assert.Equal(t, want, slot)
		}
		for range 4 {
			_, err := g.Acquire(t.Context())
			var denied *BudgetExceededError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, 3, denied.CallsMade)
			assert.Equal(t, 3, denied.Limit)
		}
		assert.Equal(t, 3, g.Snapshot().CallsMade)
		assert.Equal(t, []int{1, 2, 3}, obs.acquired)
		assert.Equal(t, 4, obs.denied)
	})

	t.Run("Should carry an instruction for the model on denial", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 1, Extended: 1})
		_, err := g.Acquire(t.Context())
		require.NoError(t, err)
		_, err = g.Acquire(t.Context())
		var denied *BudgetExceededError
		require.ErrorAs(t, err, &denied)
		assert.Contains(t, denied.Instruction(), "STOP")
		assert.ErrorIs(t, err, &BudgetExceededError{})
	})

	t.Run("Should never over-grant under concurrent callers", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 5, Extended: 5})
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			slots  []int
			denied int
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				slot, err := g.Acquire(context.Background())
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					denied++
					return
				}
				slots = append(slots, slot)
			}()
		}
		wg.Wait()
		sort.Ints(slots)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, slots)
		assert.Equal(t, 45, denied)
		assert.Equal(t, 5, g.Snapshot().CallsMade)
	})
}

func TestGovernor_Reset(t *testing.T) {
	t.Run("Should restore zero calls and the initial limit after extension", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 2, Extended: 4, Adaptive: true})
		_, _ = g.Acquire(t.Context())
		require.True(t, g.ExtendIfWarranted(t.Context(), poor))
		_, _ = g.Acquire(t.Context())
		require.NoError(t, g.Reset(t.Context()))
		snap := g.Snapshot()
		assert.Zero(t, snap.CallsMade)
		assert.Equal(t, 2, snap.CurrentLimit)
		require.NoError(t, g.Reset(t.Context()))
		assert.Equal(t, snap, g.Snapshot())
	})

	t.Run("Should raise a consistency fault when the reset cannot be verified", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 2, Extended: 2})
		calls := 0
		g.afterReset = func(b *CallBudget) {
			calls++
			b.CallsMade = 1
		}
		err := g.Reset(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConsistencyFault)
		assert.Equal(t, ErrCodeConsistencyFault, core.ErrorCode(err))
		assert.Equal(t, resetVerifyAttempts, calls)
	})

	t.Run("Should recover when a retry verifies", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 2, Extended: 2})
		calls := 0
		g.afterReset = func(b *CallBudget) {
			calls++
			if calls == 1 {
				b.CallsMade = 7
			}
		}
		require.NoError(t, g.Reset(t.Context()))
		assert.Equal(t, 2, calls)
	})

	t.Run("Should still reset when the context is already cancelled", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 2, Extended: 2})
		_, _ = g.Acquire(t.Context())
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.NoError(t, g.Reset(ctx))
		assert.Zero(t, g.Snapshot().CallsMade)
	})

	t.Run("Should not report a consistency fault for a cancelled context", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 2, Extended: 2})
		g.afterReset = func(b *CallBudget) {
			b.CallsMade = 1
		}
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := g.Reset(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrConsistencyFault)
		assert.Empty(t, core.ErrorCode(err))
	})
}

func TestGovernor_ExtendIfWarranted(t *testing.T) {
	t.Run("Should extend once on a poor verdict", func(t *testing.T) {
		obs := &recordingObserver{}
		g := mustNew(t, Limits{Initial: 3, Extended: 6, Adaptive: true}, WithObserver(obs))
		assert.True(t, g.ExtendIfWarranted(t.Context(), poor))
		assert.Equal(t, 6, g.Snapshot().CurrentLimit)
		assert.False(t, g.ExtendIfWarranted(t.Context(), poor))
		assert.Equal(t, 6, g.Snapshot().CurrentLimit)
		assert.Equal(t, [][2]int{{3, 6}}, obs.extended)
	})

	t.Run("Should ignore good verdicts", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 3, Extended: 6, Adaptive: true})
		assert.False(t, g.ExtendIfWarranted(t.Context(), quality.Verdict{IsPoor: false}))
		assert.Equal(t, 3, g.Snapshot().CurrentLimit)
	})

	t.Run("Should be a no-op when adaptive mode is off", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 5, Extended: 8, Adaptive: false})
		assert.False(t, g.ExtendIfWarranted(t.Context(), poor))
		assert.Equal(t, 5, g.Snapshot().CurrentLimit)
	})

	t.Run("Should let extra calls through after extension", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 1, Extended: 2, Adaptive: true})
		_, err := g.Acquire(t.Context())
		require.NoError(t, err)
		_, err = g.Acquire(t.Context())
		require.Error(t, err)
		g.ExtendIfWarranted(t.Context(), poor)
		slot, err := g.Acquire(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, slot)
	})
}

func TestGovernor_Configure(t *testing.T) {
	t.Run("Should apply limits between queries", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 3, Extended: 6, Adaptive: true})
		require.NoError(t, g.Configure(Limits{Initial: 5, Extended: 5}))
		snap := g.Snapshot()
		assert.Equal(t, 5, snap.CurrentLimit)
		assert.False(t, snap.AdaptiveEnabled)
	})

	t.Run("Should reject reconfiguration mid-query", func(t *testing.T) {
		g := mustNew(t, Limits{Initial: 3, Extended: 6})
		_, _ = g.Acquire(t.Context())
		err := g.Configure(Limits{Initial: 1, Extended: 1})
		require.Error(t, err)
		assert.Equal(t, ErrCodeBudgetBusy, core.ErrorCode(err))
		assert.Equal(t, 3, g.Snapshot().CurrentLimit)
	})

	t.Run("Should reject invalid limits", func(t *testing.T) {
		_, err := New(Limits{Initial: 0, Extended: 1})
		require.Error(t, err)
		_, err = New(Limits{Initial: 4, Extended: 2})
		require.Error(t, err)
		assert.True(t, errors.Is(err, &core.Error{Code: ErrCodeInvalidLimits}))
	})
}
