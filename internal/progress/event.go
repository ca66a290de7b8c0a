// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that pipeline stages use to report activity. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs or Prometheus metrics.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Milestone denotes the kind of pipeline activity represented by an Event.
type Milestone string

// Supported progress milestones.
const (
	DownloadStart Milestone = "DOWNLOAD_START"
	DownloadDone  Milestone = "DOWNLOAD_DONE"
	DownloadError Milestone = "DOWNLOAD_ERROR"
	ConvertStart  Milestone = "CONVERT_START"
	ConvertDone   Milestone = "CONVERT_DONE"
	ConvertError  Milestone = "CONVERT_ERROR"
	ExtractStart  Milestone = "EXTRACT_START"
	ExtractDone   Milestone = "EXTRACT_DONE"
	ExtractError  Milestone = "EXTRACT_ERROR"
)

// Event captures a single pipeline milestone for one document.
type Event struct {
	// Locator identifies the document the milestone belongs to.
	Locator string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Milestone denotes which lifecycle point occurred.
	Milestone Milestone
	// Bytes carries the document size for download completions.
	Bytes int64
	// Images counts rendered page images for conversion completions.
	Images int
	// Dur captures execution latency for completed milestones.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Locator == "" {
		return errors.New("locator is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Milestone {
	case DownloadStart, DownloadDone, DownloadError,
		ConvertStart, ConvertDone, ConvertError,
		ExtractStart, ExtractDone, ExtractError:
	default:
		return fmt.Errorf("unknown milestone %q", e.Milestone)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Failed reports whether the event is an error milestone.
func (e Event) Failed() bool {
	switch e.Milestone {
	case DownloadError, ConvertError, ExtractError:
		return true
	default:
		return false
	}
}
