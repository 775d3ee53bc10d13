package engine

import "kestrel/internal/common"

// PriceLevel is the FIFO of resting orders at one price. Orders are
// linked through their registry slots, oldest at the head.
type PriceLevel struct {
	Price common.Price

	head, tail Handle
	count      int
	quantity   uint64 // Sum of member remaining quantities
}

func newPriceLevel(price common.Price) *PriceLevel {
	return &PriceLevel{
		Price: price,
		head:  nilHandle,
		tail:  nilHandle,
	}
}

func (level *PriceLevel) Len() int         { return level.count }
func (level *PriceLevel) Quantity() uint64 { return level.quantity }
func (level *PriceLevel) Empty() bool      { return level.head == nilHandle }

func (level *PriceLevel) front() Handle { return level.head }

func (level *PriceLevel) pushBack(reg *Registry, h Handle) {
	s := &reg.slots[h]
	s.prev = level.tail
	s.next = nilHandle
	if level.tail != nilHandle {
		reg.slots[level.tail].next = h
	} else {
		level.head = h
	}
	level.tail = h
	level.count++
	level.quantity += s.order.Quantity
}

// remove unlinks h. The level's aggregate drops by whatever the order
// still has open.
func (level *PriceLevel) remove(reg *Registry, h Handle) {
	s := &reg.slots[h]
	if s.prev != nilHandle {
		reg.slots[s.prev].next = s.next
	} else {
		level.head = s.next
	}
	if s.next != nilHandle {
		reg.slots[s.next].prev = s.prev
	} else {
		level.tail = s.prev
	}
	s.prev, s.next = nilHandle, nilHandle
	level.count--
	level.quantity -= s.order.Quantity
}

// reduce takes qty off the order at h without moving it.
func (level *PriceLevel) reduce(reg *Registry, h Handle, qty uint64) {
	reg.slots[h].order.Quantity -= qty
	level.quantity -= qty
}

// each walks the level oldest first until fn returns false.
func (level *PriceLevel) each(reg *Registry, fn func(order *common.Order) bool) {
	for h := level.head; h != nilHandle; h = reg.slots[h].next {
		if !fn(&reg.slots[h].order) {
			return
		}
	}
}
