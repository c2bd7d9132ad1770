package gamma_http

import (
	"fmt"
	"strings"
	"time"
)

// bucketSeconds is the length of one up/down market window.
const bucketSeconds = 900

// CurrentBucket returns the unix timestamp of the start of the 15
// minute window containing now. The exchange names each window by its
// start time.
func CurrentBucket(now time.Time) int64 {
	ts := now.Unix()
	return ((ts+bucketSeconds)/bucketSeconds)*bucketSeconds - bucketSeconds
}

// NextBucket returns the start of the window after the current one.
func NextBucket(now time.Time) int64 {
	return CurrentBucket(now) + bucketSeconds
}

// UpDownSlug builds the market slug for a symbol's 15 minute up/down
// window, e.g. "btc-updown-15m-1700000100".
func UpDownSlug(symbol string, bucket int64) string {
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), bucket)
}
