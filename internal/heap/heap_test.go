package heap_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiguoustexture/lox/internal/heap"
	"github.com/ambiguoustexture/lox/internal/value"
)

func TestInternStringDedupes(t *testing.T) {
	h := heap.New()

	a := h.InternString("hello")
	b := h.InternString("hello")
	c := h.InternString("world")

	assert.Same(t, a, b, "identical content must return the same ObjString")
	assert.NotSame(t, a, c)
	assert.Equal(t, value.FNV1a("hello"), a.Hash)
}

func TestInitStringIsCachedAndRooted(t *testing.T) {
	h := heap.New()
	assert.Equal(t, "init", h.InitString.Chars)

	// A collection with no other roots must not reclaim InitString.
	h.Collect()
	assert.False(t, h.InitString.IsMarked(), "mark bit is cleared by the end of the sweep")
	again := h.InternString("init")
	assert.Same(t, h.InitString, again)
}

func TestCollectReclaimsUnreachableObjects(t *testing.T) {
	h := heap.New()

	reachable := h.InternString("kept")
	_ = h.InternString("also-dropped")

	var root value.Value
	h.PushRoot(func(mark func(value.Value)) { mark(root) })
	defer h.PopRoot()

	root = value.FromObj(reachable)

	before := h.BytesAllocated()
	h.Collect()
	after := h.BytesAllocated()

	require.Less(t, after, before, "sweeping an unreachable string must shrink bytesAllocated")

	// The surviving string must still be retrievable by content.
	same := h.InternString("kept")
	assert.Same(t, reachable, same)
}

func TestCollectTracesClosureGraph(t *testing.T) {
	h := heap.New()

	fn := h.NewFunction()
	fn.Name = h.InternString("f")
	fn.UpvalueCount = 1
	idx, err := fn.Chunk.AddConstant(value.Number(42))
	require.NoError(t, err)
	require.Zero(t, idx)

	closure := h.NewClosure(fn)
	upvalue := h.NewUpvalue(new(value.Value), 0)
	closure.Upvalues[0] = upvalue

	var root value.Value
	h.PushRoot(func(mark func(value.Value)) { mark(root) })
	defer h.PopRoot()
	root = value.FromObj(closure)

	h.Collect()

	assert.False(t, closure.IsMarked(), "mark bit is cleared by the end of the sweep")
	// The closure, its function, and its upvalue must have survived: a
	// second collection with the same root frees nothing, so BytesAllocated
	// stays the same.
	live := h.BytesAllocated()
	h.Collect()
	assert.Equal(t, live, h.BytesAllocated())
	assert.Equal(t, "f", closure.Function.Name.Chars)
}

func TestStressGCCollectsOnEveryAllocation(t *testing.T) {
	h := heap.New()
	h.StressGC = true

	// With no roots at all, every allocation should immediately become
	// unreachable and get swept by the very next allocation's pre-collect.
	// Distinct contents, so that every call really allocates.
	for i := 0; i < 50; i++ {
		h.InternString("x" + strconv.Itoa(i))
	}
	assert.LessOrEqual(t, h.BytesAllocated(), int64(64))
}

func TestOnCollectHookReportsFreedBytes(t *testing.T) {
	h := heap.New()
	var freedSeen, liveSeen int64
	h.OnCollect = func(freed, live int64) {
		freedSeen = freed
		liveSeen = live
	}

	h.InternString("throwaway")
	h.Collect()

	assert.GreaterOrEqual(t, freedSeen, int64(0))
	assert.GreaterOrEqual(t, liveSeen, int64(0))
}
