package vm

import "github.com/ambiguoustexture/lox/internal/value"

// captureUpvalue returns the open upvalue already capturing stack slot, or
// creates one, keeping vm.openUpvalues sorted by descending slot index so
// the scan below can stop as soon as it passes slot (spec.md §4.4).
func (vm *VM) captureUpvalue(slot int) *value.ObjUpvalue {
	var prev *value.ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && cur.OpenSlot > slot {
		prev = cur
		cur = cur.NextOpen
	}
	if cur != nil && cur.OpenSlot == slot {
		return cur
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.NextOpen = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues hoists every open upvalue at or above stack slot last onto
// the heap (copying the value into the upvalue's own Closed field) and
// unlinks it from the open list, which is what lets a closure keep seeing
// a local after the function that declared it has returned.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.OpenSlot >= last {
		uv := vm.openUpvalues
		uv.Close()
		vm.openUpvalues = uv.NextOpen
	}
}
