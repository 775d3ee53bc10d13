package engine

import "kestrel/internal/common"

// Handle is the stable index of an order slot in the registry arena.
type Handle int32

const nilHandle Handle = -1

type slot struct {
	order common.Order
	// FIFO links within the order's price level.
	prev, next Handle
}

// Location is where a resting order sits in the book. The handle doubles
// as the position marker within the level.
type Location struct {
	Side   common.Side
	Price  common.Price
	Handle Handle
}

// Registry maps resting order ids to their slot in a dense arena. Price
// levels link slots by handle, so nothing in the book holds a pointer to
// an order.
//
// Pointers returned by Order are only valid until the next Register,
// which may grow the arena.
type Registry struct {
	slots []slot
	free  []Handle
	index map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]Handle),
	}
}

// Register stores the order in a free slot and indexes it by id.
func (r *Registry) Register(order common.Order) Handle {
	var h Handle
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		h = Handle(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	r.slots[h] = slot{order: order, prev: nilHandle, next: nilHandle}
	r.index[order.ID] = h
	return h
}

// Locate returns the location of a resting order.
func (r *Registry) Locate(id string) (Location, bool) {
	h, ok := r.index[id]
	if !ok {
		return Location{}, false
	}
	order := &r.slots[h].order
	return Location{Side: order.Side, Price: order.LimitPrice, Handle: h}, true
}

// Unregister drops the id and recycles its slot.
func (r *Registry) Unregister(id string) {
	h, ok := r.index[id]
	if !ok {
		return
	}
	delete(r.index, id)
	r.slots[h] = slot{prev: nilHandle, next: nilHandle}
	r.free = append(r.free, h)
}

func (r *Registry) Order(h Handle) *common.Order {
	return &r.slots[h].order
}

// Len is the number of resting orders.
func (r *Registry) Len() int {
	return len(r.index)
}
