// Package txid allocates globally unique transaction identifiers.
//
// An ID packs the owning site's ID into the high 32 bits and a
// per-site monotonic counter into the low 32 bits, so two sites can never
// mint the same id without coordinating, and a single uint64 can travel
// unmodified over the wire.
package txid

import (
	"fmt"
	"sync"
)

// ID is a transaction identifier, unique across the whole deployment.
type ID uint64

// New packs a site id and a per-site counter value into an ID.
func New(siteID uint32, counter uint32) ID {
	return ID(uint64(siteID)<<32 | uint64(counter))
}

// SiteID returns the site that allocated this transaction id.
func (id ID) SiteID() uint32 {
	return uint32(uint64(id) >> 32)
}

// Counter returns the per-site counter value encoded in this id.
func (id ID) Counter() uint32 {
	return uint32(uint64(id))
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.SiteID(), id.Counter())
}

// Generator allocates increasing transaction ids, one independent counter
// per site, so that sites can mint ids concurrently without colliding.
type Generator struct {
	mu       sync.Mutex
	counters map[uint32]uint32
}

// NewGenerator returns an empty Generator.
func NewGenerator() *Generator {
	return &Generator{counters: make(map[uint32]uint32)}
}

// Next allocates the next transaction id for siteID.
func (g *Generator) Next(siteID uint32) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.counters[siteID]
	g.counters[siteID] = next + 1
	return New(siteID, next)
}
