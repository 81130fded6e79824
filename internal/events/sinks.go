package events

import "github.com/gravitas-games/slotkeeper/pkg/inventory"

// Multi fans one notification out to several sinks. Each sink receives its
// own copy of the index slice.
type Multi []inventory.Sink

// SlotsChanged implements inventory.Sink.
func (m Multi) SlotsChanged(slots []int) {
	for _, s := range m {
		if s == nil {
			continue
		}
		s.SlotsChanged(append([]int(nil), slots...))
	}
}
