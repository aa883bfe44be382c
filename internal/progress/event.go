package progress

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/nas2net/oss-relay/internal/relay"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart   Stage = "TASK_START"
	StageConvertDone Stage = "CONVERT_DONE"
	StageTaskDone    Stage = "TASK_DONE"
)

// Event captures a single milestone of conversion progress.
type Event struct {
	// TaskID uniquely identifies a conversion task using the 16-byte UUID form.
	TaskID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or conversion milestone occurred.
	Stage Stage
	// URL is the original remote URL for CONVERT_DONE events.
	URL string
	// Site is the host label derived from URL.
	Site string
	// Status is the terminal per-occurrence outcome for CONVERT_DONE events.
	Status relay.ConversionStatus
	// Bytes carries the downloaded size for successful conversions.
	Bytes int64
	// Dur captures execution latency for conversions and task completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. the failure reason).
	Note string
	// Total/Succeeded/Failed/Skipped summarize the task on TASK_START (Total
	// only) and TASK_DONE events.
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == [16]byte{} {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone:
	case StageConvertDone:
		if e.URL == "" {
			return errors.New("convert done requires url")
		}
		if !e.Status.Terminal() {
			return fmt.Errorf("convert done requires terminal status, got %q", e.Status)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// TaskUUID converts the binary task ID to uuid.UUID for repositories.
func (e Event) TaskUUID() uuid.UUID {
	return uuid.UUID(e.TaskID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// SiteOf extracts the host label used for per-site metrics; it returns
// "unknown" when the URL does not parse.
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
