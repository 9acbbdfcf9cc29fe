// Package idalloc generates globally unique, roughly-increasing 64-bit
// identifiers using the Sonyflake algorithm — used for update-bus ids and
// memory-broker job and reservation ids, anywhere the engine needs
// an id that is monotonic enough to order events without a central
// counter shared across processes.
package idalloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Generator wraps a Sonyflake instance.
type Generator struct {
	sf *sonyflake.Sonyflake
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

func initDefaultGenerator() {
	defaultGenerator = New()
}

// Default returns the process-wide generator, created lazily on first use.
func Default() *Generator {
	defaultGeneratorOnce.Do(initDefaultGenerator)
	return defaultGenerator
}

// New creates a fresh Sonyflake-backed generator with a fixed epoch so ids
// generated by different daemon instances stay comparable.
func New() *Generator {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if sf == nil {
		sf = sonyflake.NewSonyflake(sonyflake.Settings{StartTime: time.Now()})
	}
	return &Generator{sf: sf}
}

// Next returns the next id in the sequence.
func (g *Generator) Next() (uint64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// NextWithPrefix returns an id formatted as "<prefix>-<id>", used for
// memory-broker job and reservation ids that appear in logs.
func (g *Generator) NextWithPrefix(prefix string) (string, error) {
	id, err := g.Next()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", prefix, id), nil
}

// Next uses the default generator.
func Next() (uint64, error) { return Default().Next() }

// NextWithPrefix uses the default generator.
func NextWithPrefix(prefix string) (string, error) { return Default().NextWithPrefix(prefix) }
