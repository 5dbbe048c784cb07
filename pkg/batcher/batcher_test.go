package batcher_test

import (
	"errors"
	"testing"

	"github.com/gatehouse-dev/gatehouse/pkg/batcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessYieldsBetweenBatches(t *testing.T) {
	t.Parallel()

	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	var yields, processed int

	errs := batcher.Process(items, 10, func() { yields++ }, func(int) error {
		processed++

		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, 25, processed)
	assert.Equal(t, 2, yields, "yield runs between batches, not before the first")
}

func TestProcessIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	items := []int{0, 1, 2, 3, 4}
	failure := errors.New("bad item")

	var processed int

	errs := batcher.Process(items, 2, func() {}, func(item int) error {
		processed++

		if item == 1 {
			return failure
		}

		if item == 3 {
			panic("construction blew up")
		}

		return nil
	})

	assert.Equal(t, 5, processed, "failures must not abort later items")
	require.Len(t, errs, 2)

	var itemErr batcher.ItemError

	require.ErrorAs(t, errs[0], &itemErr)
	assert.Equal(t, 1, itemErr.Index)
	assert.ErrorIs(t, errs[0], failure)

	require.ErrorAs(t, errs[1], &itemErr)
	assert.Equal(t, 3, itemErr.Index)
	assert.Contains(t, errs[1].Error(), "panic during construction")
}

func TestProcessDefaults(t *testing.T) {
	t.Parallel()

	items := make([]int, batcher.DefaultBatchSize+1)

	var processed int

	errs := batcher.Process(items, 0, nil, func(int) error {
		processed++

		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, len(items), processed)
}

func TestProcessEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, batcher.Process(nil, 10, nil, func(int) error { return nil }))
}
