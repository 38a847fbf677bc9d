// Package entropy holds the process-local random source handed to task code.
//
// Sibling shard processes are often started in the same instant, so the
// dispatcher reseeds this source with material that includes the shard
// index before any task logic runs.
package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	src = newRand(time.Now().String())
)

func newRand(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16])))
}

// Seed replaces the process source with one derived from seed.
func Seed(seed string) {
	mu.Lock()
	defer mu.Unlock()
	src = newRand(seed)
}

// Float64 draws from the process source.
func Float64() float64 {
	mu.Lock()
	defer mu.Unlock()
	return src.Float64()
}

// Uint64 draws from the process source.
func Uint64() uint64 {
	mu.Lock()
	defer mu.Unlock()
	return src.Uint64()
}

// IntN draws from [0, n) using the process source.
func IntN(n int) int {
	mu.Lock()
	defer mu.Unlock()
	return src.IntN(n)
}
