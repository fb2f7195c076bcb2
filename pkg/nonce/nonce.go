// Package nonce implements the pod's nonce generator. Both sides derive the
// same sequence from the pod's lot, TID and a 16 bit seed; a nonce mismatch
// is repaired by reseeding from the sync word the pod sends back.
package nonce

import (
	"github.com/avereha/podcomm/pkg/crc"
)

const (
	tableSize = 16
	lotMix    = 0x55543dc3
	tidMix    = 0xaaaae44e
	mul0      = 0x5d7f
	mul1      = 0x8ca0
)

// State is everything needed to rebuild a Generator: the generator is
// reseeded from Lot, TID and Seed and advanced Count times.
type State struct {
	Lot   uint32 `toml:"lot"`
	TID   uint32 `toml:"tid"`
	Seed  uint16 `toml:"seed"`
	Count uint32 `toml:"count"`
}

// Generator produces the nonce sequence. It is not safe for concurrent use.
type Generator struct {
	state State
	table [2 + tableSize]uint32
	idx   uint8
}

// New seeds a generator.
func New(lot, tid uint32, seed uint16) *Generator {
	g := &Generator{}
	g.seed(lot, tid, seed)
	return g
}

// Restore rebuilds the generator described by s.
func Restore(s State) *Generator {
	g := New(s.Lot, s.TID, s.Seed)
	for i := uint32(0); i < s.Count; i++ {
		g.Advance()
	}
	return g
}

func (g *Generator) seed(lot, tid uint32, seed uint16) {
	g.state = State{Lot: lot, TID: tid, Seed: seed}
	g.table[0] = (lot & 0xffff) + lotMix + (lot >> 16) + uint32(seed&0xff)
	g.table[1] = (tid & 0xffff) + tidMix + (tid >> 16) + uint32(seed>>8)
	for i := 0; i < tableSize; i++ {
		g.table[2+i] = g.generate()
	}
	g.idx = uint8((g.table[0] + g.table[1]) & 0xf)
}

func (g *Generator) generate() uint32 {
	g.table[0] = (g.table[0] >> 16) + (g.table[0]&0xffff)*mul0
	g.table[1] = (g.table[1] >> 16) + (g.table[1]&0xffff)*mul1
	return g.table[1] + (g.table[0]&0xffff)<<16
}

// Current is the nonce to stamp on the next nonce-authenticated command.
func (g *Generator) Current() uint32 {
	return g.table[2+g.idx]
}

// Advance consumes the current nonce. Call it only once the pod accepted it.
func (g *Generator) Advance() {
	n := g.Current()
	g.table[2+g.idx] = g.generate()
	g.idx = uint8(n & 0xf)
	g.state.Count++
}

// Resync reseeds after the pod rejected sentNonce, carried in the message
// with sequence number seq, and answered with syncWord.
func (g *Generator) Resync(syncWord uint16, sentNonce uint32, seq uint8) {
	g.seed(g.state.Lot, g.state.TID, uint16(resyncWord(g.state.Lot, g.state.TID, sentNonce, seq))^syncWord)
}

// SyncWord is what a pod seeded with seed reports when it rejects sentNonce
// in the message with sequence number seq.
func SyncWord(lot, tid uint32, seed uint16, sentNonce uint32, seq uint8) uint16 {
	return uint16(resyncWord(lot, tid, sentNonce, seq)) ^ seed
}

func resyncWord(lot, tid, sentNonce uint32, seq uint8) uint32 {
	return (sentNonce & 0xffff) + uint32(crc.TableValue(int(seq))) + (lot & 0xffff) + (tid & 0xffff)
}

// State returns the persistable generator state.
func (g *Generator) State() State {
	return g.state
}
