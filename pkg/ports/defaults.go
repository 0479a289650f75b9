package ports

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGen is the production IDGen: prefix + "-" + UUIDv4 without dashes.
type UUIDGen struct{}

func (UUIDGen) New(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// FixedClock is a test Clock pinned to one instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// SeqGen is a deterministic test IDGen.
type SeqGen struct {
	n int
}

func (g *SeqGen) New(prefix string) string {
	g.n++
	return prefix + "-" + strconv.Itoa(g.n)
}
