package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Reason classifies an error record.
type Reason string

const (
	// ReasonPlugFault is a panic recovered at the plug boundary.
	ReasonPlugFault Reason = "plug_fault"
	// ReasonPlugError is an error returned by a plug.
	ReasonPlugError Reason = "plug_error"
	// ReasonNoStreamStarted is recorded when a streaming pipeline finished
	// without any plug starting a stream.
	ReasonNoStreamStarted Reason = "no_stream_started"
	// ReasonCanceled is recorded when the context ended between plugs.
	ReasonCanceled Reason = "canceled"
)

// ErrNoStreamStarted is the cause attached to ReasonNoStreamStarted records.
var ErrNoStreamStarted = errors.New("pipeline completed without starting a stream")

// ErrorRecord is a structured error entry on a Request.
type ErrorRecord struct {
	Plug      string
	Reason    Reason
	Message   string
	Err       error
	Stack     []byte
	Timestamp time.Time
}

// Failure is returned by Stream (and Request.Err) when a request ends in the
// error state. The failed request is available for inspection.
type Failure struct {
	Request *Request
}

func (f *Failure) Error() string {
	last := f.Request.LastError()
	if last == nil {
		return fmt.Sprintf("request %s failed", f.Request.ID)
	}
	if last.Plug == "" {
		return fmt.Sprintf("request %s: %s: %s", f.Request.ID, last.Reason, last.Message)
	}
	return fmt.Sprintf("request %s: plug %s: %s: %s", f.Request.ID, last.Plug, last.Reason, last.Message)
}

// Unwrap returns the cause of the last error record.
func (f *Failure) Unwrap() error {
	if last := f.Request.LastError(); last != nil {
		return last.Err
	}
	return nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
