package claims

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Cooldown rate-limits winnings claims across process restarts by
// keeping the last claim time in a small state file. Claiming is
// gas-bearing, so running it on every startup would bleed fees.
type Cooldown struct {
	path     string
	interval time.Duration

	now func() time.Time
}

func NewCooldown(path string, interval time.Duration) *Cooldown {
	return &Cooldown{path: path, interval: interval, now: time.Now}
}

// ReadLast returns the recorded last claim time. A missing or
// unreadable file counts as never claimed.
func (c *Cooldown) ReadLast() (time.Time, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		telemetry.Warnf("claims: bad timestamp in %s: %v", c.path, err)
		return time.Time{}, false
	}
	return ts, true
}

// Ready reports whether the cooldown has elapsed since the last claim.
func (c *Cooldown) Ready() bool {
	last, ok := c.ReadLast()
	if !ok {
		return true
	}
	return c.now().Sub(last) >= c.interval
}

// Remaining returns how long until the next claim is allowed.
func (c *Cooldown) Remaining() time.Duration {
	last, ok := c.ReadLast()
	if !ok {
		return 0
	}
	rem := c.interval - c.now().Sub(last)
	if rem < 0 {
		return 0
	}
	return rem
}

// RecordNow stamps the state file with the current time. The write is
// atomic so a crash mid-write cannot corrupt the timestamp.
func (c *Cooldown) RecordNow() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create claims state dir: %w", err)
	}

	tmp := c.path + ".tmp"
	data := c.now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write claims state: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("commit claims state: %w", err)
	}
	return nil
}
