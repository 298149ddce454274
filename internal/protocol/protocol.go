// Package protocol defines the one-directional wire contract between the
// import worker process and the coordinator.
//
// The coordinator writes a single Input document to the worker's stdin and
// closes it. The worker then writes newline delimited JSON frames to stdout
// in the order it chooses: any number of sub_status and validation_progress
// frames followed by exactly one complete or failed frame. A fault frame is
// only written by the worker host when the pipeline panics.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/obsreg/importer/internal/model"
)

var (
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrMalformedFrame = errors.New("malformed frame")
)

type Kind string

const (
	KindSubStatus          Kind = "sub_status"
	KindValidationProgress Kind = "validation_progress"
	KindComplete           Kind = "complete"
	KindFailed             Kind = "failed"
	KindFault              Kind = "fault"
)

// Input is the launch payload of a worker.
type Input struct {
	ID        string           `json:"id"`
	Kind      model.ImportKind `json:"importKind"`
	Principal model.Principal  `json:"principal"`
}

// Progress is a validation snapshot. Each one replaces the previous.
type Progress struct {
	TotalLines        int `json:"totalLines"`
	EntriesToValidate int `json:"entriesToValidate"`
	ValidatedEntries  int `json:"validatedEntries"`
	ErrorCount        int `json:"errorCount"`
}

// RejectedRow locates and explains a single rejected input line.
type RejectedRow struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

type Frame struct {
	Kind         Kind            `json:"type"`
	Phase        model.SubStatus `json:"phase,omitempty"`
	Progress     *Progress       `json:"progress,omitempty"`
	RejectedRows []RejectedRow   `json:"rejectedRows,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

func SubStatus(phase model.SubStatus) Frame {
	return Frame{Kind: KindSubStatus, Phase: phase}
}

func ValidationProgress(p Progress) Frame {
	return Frame{Kind: KindValidationProgress, Progress: &p}
}

func Complete(rows []RejectedRow) Frame {
	return Frame{Kind: KindComplete, RejectedRows: rows}
}

func Failed(reason string) Frame {
	return Frame{Kind: KindFailed, Reason: reason}
}

func Fault(err error) Frame {
	return Frame{Kind: KindFault, Reason: err.Error()}
}

// Terminal reports whether f ends the job from the worker's side.
func (f Frame) Terminal() bool {
	switch f.Kind {
	case KindComplete, KindFailed, KindFault:
		return true
	}
	return false
}

func (f Frame) validate() error {
	switch f.Kind {
	case KindSubStatus:
		if f.Phase == "" {
			return fmt.Errorf("%w: sub_status without phase", ErrMalformedFrame)
		}
	case KindValidationProgress:
		if f.Progress == nil {
			return fmt.Errorf("%w: validation_progress without progress", ErrMalformedFrame)
		}
	case KindComplete, KindFailed, KindFault:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, f.Kind)
	}
	return nil
}

// Encoder writes frames. It is safe for concurrent use.
type Encoder struct {
	mx  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

func (e *Encoder) Encode(f Frame) error {
	if err := f.validate(); err != nil {
		return err
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.enc.Encode(f)
}

type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Next returns the next frame or io.EOF once the stream ended cleanly.
func (d *Decoder) Next() (Frame, error) {
	var f Frame
	if err := d.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func WriteInput(w io.Writer, in Input) error {
	return json.NewEncoder(w).Encode(in)
}

func ReadInput(r io.Reader) (Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Input{}, fmt.Errorf("decoding worker input: %w", err)
	}
	if in.ID == "" {
		return Input{}, errors.New("worker input without id")
	}
	if _, err := model.ParseImportKind(string(in.Kind)); err != nil {
		return Input{}, err
	}
	return in, nil
}
