package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuildWithContext(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("conversion failed")).
		Component("workerpool").
		Category(CategoryWorker).
		ChunkContext(7).
		Context("retry_count", 2).
		Build()

	assert.Equal(t, "workerpool", ee.GetComponent())
	assert.Equal(t, CategoryWorker, ee.Category)

	ctx := ee.GetContext()
	require.NotNil(t, ctx)
	assert.Equal(t, 7, ctx["chunk_index"])
	assert.Equal(t, 2, ctx["retry_count"])

	// Returned context must be a defensive copy.
	ctx["chunk_index"] = 99
	assert.Equal(t, 7, ee.GetContext()["chunk_index"])
}

func TestUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("underlying")
	ee := New(cause).Category(CategoryTimeout).Build()

	assert.Equal(t, cause, ee.Unwrap())
	assert.True(t, Is(ee, cause))

	other := New(fmt.Errorf("another")).Category(CategoryTimeout).Build()
	assert.True(t, ee.Is(other))

	different := New(fmt.Errorf("different")).Category(CategoryWorker).Build()
	assert.False(t, ee.Is(different))
}

func TestMarkReported(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Build()
	assert.False(t, ee.IsReported())
	ee.MarkReported()
	assert.True(t, ee.IsReported())
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Priority("not-a-real-priority").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee2 := New(fmt.Errorf("x")).Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, ee2.GetPriority())
}

func TestTiming(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("slow")).Timing("convert", 150*time.Millisecond).Build()
	ctx := ee.GetContext()
	assert.Equal(t, "convert", ctx["operation"])
	assert.Equal(t, int64(150), ctx["duration_ms"])
}
