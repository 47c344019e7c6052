// Package id generates time-sortable event identifiers.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out ULIDs that are lexicographically increasing for
// timestamps within the same millisecond.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
}

// NewGenerator seeds a monotonic entropy source from crypto/rand.
func NewGenerator() *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// At returns a ULID stamped with t.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.mono)
	if err != nil {
		// Monotonic entropy exhausted within one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

// New returns a ULID stamped with the current time.
func (g *Generator) New() string {
	return g.At(time.Now())
}

var std = NewGenerator()

// New returns a ULID from the package-level generator.
func New() string {
	return std.New()
}
