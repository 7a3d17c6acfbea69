// Package dedup records recently seen logical events so that redeliveries can be
// suppressed. Every backend guarantees that CheckAndRecord is atomic: of two
// concurrent calls for the same key, at most one observes FirstSeen.
package dedup

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	DefaultWindow   = 24 * time.Hour
	DefaultCapacity = 10_000
)

type Result int

const (
	FirstSeen Result = iota
	DuplicateWithinWindow
)

func (r Result) String() string {
	if r == DuplicateWithinWindow {
		return "duplicate"
	}
	return "first_seen"
}

var ErrEmptyKey = errors.New("dedup key requires repository, entity id and action")

// Key identifies a logical event independent of the delivery that carried it.
type Key struct {
	Repository string
	EntityID   string
	Action     string
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Repository) == "" || strings.TrimSpace(k.EntityID) == "" || strings.TrimSpace(k.Action) == "" {
		return ErrEmptyKey
	}
	return nil
}

func (k Key) String() string {
	return strings.ToLower(k.Repository) + "/" + k.EntityID + "/" + k.Action
}

// Digest is a fixed-width hex digest of the key, used where the backend stores keys
// outside the process.
func (k Key) Digest() string {
	sum := blake3.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

type Store interface {
	CheckAndRecord(ctx context.Context, key Key) (Result, error)
}

type Config struct {
	Window   time.Duration
	Capacity int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}
