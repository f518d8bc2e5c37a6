package scorecard

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

var now = time.Now

func maxDate(a time.Time, b ...time.Time) time.Time {
	for _, v := range b {
		if v.After(a) {
			a = v
		}
	}

	return a
}

func eventTime(ts nostr.Timestamp) time.Time {
	return time.Unix(int64(ts), 0)
}
