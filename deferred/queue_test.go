package deferred

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestApplyRequestsRunsInOrderOnce(t *testing.T) {
	var (
		q   Queue
		got []int
	)
	for i := 0; i < 10; i++ {
		i := i
		q.AddRequest(func() { got = append(got, i) })
	}
	require.Equal(t, 10, q.AmountOfRequests())

	assert.Equal(t, 10, q.ApplyRequests())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Zero(t, q.AmountOfRequests())

	assert.Zero(t, q.ApplyRequests())
	assert.Len(t, got, 10)
}

func TestClearRequestsRunsNothing(t *testing.T) {
	var (
		q   Queue
		ran int
	)
	for i := 0; i < 3; i++ {
		q.AddRequest(func() { ran++ })
	}

	assert.Equal(t, 3, q.ClearRequests())
	assert.Zero(t, q.ApplyRequests())
	assert.Zero(t, ran)
}

func TestRequestAddedWhileApplyingIsDeferred(t *testing.T) {
	var (
		q     Queue
		steps []string
	)
	q.AddRequest(func() {
		steps = append(steps, "first")
		q.AddRequest(func() { steps = append(steps, "nested") })
	})
	q.AddRequest(func() { steps = append(steps, "second") })

	assert.Equal(t, 2, q.ApplyRequests())
	assert.Equal(t, []string{"first", "second"}, steps)
	assert.Equal(t, 1, q.AmountOfRequests())

	assert.Equal(t, 1, q.ApplyRequests())
	assert.Equal(t, []string{"first", "second", "nested"}, steps)
}

func TestNilRequestIgnored(t *testing.T) {
	var q Queue
	q.AddRequest(nil)
	assert.Zero(t, q.AmountOfRequests())
}

func TestConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		each      = 250
	)
	var (
		q   Queue
		ran atomic.Int64
		g   errgroup.Group
	)
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < each; i++ {
				q.AddRequest(func() { ran.Add(1) })
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, producers*each, q.AmountOfRequests())
	assert.Equal(t, producers*each, q.ApplyRequests())
	assert.Equal(t, int64(producers*each), ran.Load())
}
