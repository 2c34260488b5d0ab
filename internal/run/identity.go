package run

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Identity derives the run ID from the dataset, the rule and the scheduled
// start time. The same inputs always give the same ID, and one instant gives
// one ID whatever zone it was expressed in.
type Identity struct {
	algorithm string
}

// NewIdentity returns an Identity using md5 or sha256. Anything else falls
// back to md5.
func NewIdentity(algorithm string) *Identity {
	return &Identity{algorithm: algorithm}
}

func (h *Identity) RunID(datasetID, ruleID string, startedAt time.Time) string {
	input := fmt.Sprintf("%s:%s:%s", datasetID, ruleID, FormatStartedAt(startedAt.UTC()))

	switch h.algorithm {
	case "sha256":
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}

// FormatStartedAt renders t as ISO-8601 with a numeric UTC offset.
// Fractional seconds appear only when non-zero, at microsecond precision.
func FormatStartedAt(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / int(time.Microsecond); us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s + t.Format("-07:00")
}
