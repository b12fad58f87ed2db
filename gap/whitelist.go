package gap

import (
	"github.com/pkg/errors"

	"github.com/blekit/ble"
)

// WhitelistCapacity returns the controller whitelist capacity, read lazily
// on first use.
func (g *Gap) WhitelistCapacity() (int, error) {
	var (
		n   int
		err error
	)
	g.q.Sync(func() { n, err = g.capacity() })
	return n, err
}

func (g *Gap) capacity() (int, error) {
	if g.whitelistCapacity >= 0 {
		return g.whitelistCapacity, nil
	}
	n, err := g.pal.ReadWhiteListCapacity()
	if err != nil {
		return 0, errors.Wrap(err, "gap: read whitelist capacity")
	}
	g.whitelistCapacity = n
	return n, nil
}

// Whitelist returns a copy of the cached whitelist membership.
func (g *Gap) Whitelist() []ble.WhitelistEntry {
	var out []ble.WhitelistEntry
	g.q.Sync(func() {
		out = append(out, g.whitelist...)
	})
	return out
}

// SetWhitelist replaces the controller whitelist with target. Every entry
// is validated first; the whole operation is rejected on any violation.
// The update removes entries absent from target, then adds new ones; any
// primitive failure rolls the controller back to the previous membership
// and the cache is only committed once the controller state matches.
func (g *Gap) SetWhitelist(target []ble.WhitelistEntry) error {
	return g.run(func() error { return g.doSetWhitelist(target) })
}

func (g *Gap) doSetWhitelist(target []ble.WhitelistEntry) error {
	for _, e := range target {
		if !e.Valid() {
			return errors.Wrapf(ble.ErrInvalidParameter, "gap: whitelist entry %v/%v", e.Type, e.Addr)
		}
	}

	capacity, err := g.capacity()
	if err != nil {
		return err
	}
	if len(target) > capacity {
		return errors.Wrapf(ble.ErrInvalidParameter, "gap: whitelist %d entries exceeds capacity %d", len(target), capacity)
	}

	var toRemove, toAdd []ble.WhitelistEntry
	for _, e := range g.whitelist {
		if !containsEntry(target, e) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range target {
		if !containsEntry(g.whitelist, e) {
			toAdd = append(toAdd, e)
		}
	}

	// phase one: removals
	for i, e := range toRemove {
		if err := g.pal.RemoveDeviceFromWhiteList(e); err != nil {
			g.restoreRemoved(toRemove[:i])
			return err
		}
	}

	// phase two: additions
	for i, e := range toAdd {
		if err := g.pal.AddDeviceToWhiteList(e); err != nil {
			g.undoAdded(toAdd[:i])
			g.restoreRemoved(toRemove)
			return err
		}
	}

	g.whitelist = append(g.whitelist[:0], target...)
	return nil
}

// restoreRemoved puts already-removed entries back; rollback is best
// effort and its own failure never masks the original error.
func (g *Gap) restoreRemoved(removed []ble.WhitelistEntry) {
	for _, e := range removed {
		if err := g.pal.AddDeviceToWhiteList(e); err != nil {
			g.log.Errorf("whitelist rollback: re-add %v: %v", e.Addr, err)
		}
	}
}

func (g *Gap) undoAdded(added []ble.WhitelistEntry) {
	for _, e := range added {
		if err := g.pal.RemoveDeviceFromWhiteList(e); err != nil {
			g.log.Errorf("whitelist rollback: remove %v: %v", e.Addr, err)
		}
	}
}

func containsEntry(list []ble.WhitelistEntry, e ble.WhitelistEntry) bool {
	for _, o := range list {
		if o == e {
			return true
		}
	}
	return false
}
