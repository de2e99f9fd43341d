// Package framelog captures every payload uploaded to the screen in an
// append-only CBOR file, so a session can be inspected offline.
package framelog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"screensync/internal/encode"
	"screensync/internal/logging"
	"screensync/pkg/types"
)

// Record is one uploaded payload.
type Record struct {
	Session string      `cbor:"1,keyasint"`
	Seq     uint64      `cbor:"2,keyasint"`
	At      time.Time   `cbor:"3,keyasint"`
	Mode    types.Mode  `cbor:"4,keyasint"`
	Kind    encode.Kind `cbor:"5,keyasint"`
	Width   int         `cbor:"6,keyasint"`
	Height  int         `cbor:"7,keyasint"`
	Frames  int         `cbor:"8,keyasint,omitempty"`
	Digest  []byte      `cbor:"9,keyasint"`
	Data    []byte      `cbor:"10,keyasint"`
}

// Payload rebuilds the uploaded payload.
func (r Record) Payload() encode.Payload {
	return encode.Restore(r.Kind, r.Width, r.Height, r.Data)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame log encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame log decoder mode: %v", err))
	}
}

// Writer appends records for one daemon session. It is safe for
// concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	encoder *cbor.Encoder
	session string
	seq     uint64
	closed  bool
	now     func() time.Time
	logger  *logging.Logger
}

// NewWriter writes records to w under a fresh session ID.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:       w,
		encoder: encMode.NewEncoder(w),
		session: uuid.NewString(),
		now:     time.Now,
		logger:  logging.GetLogger("framelog"),
	}
}

// Create opens path for appending, creating it with mode 0644.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open frame log: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	w.logger.Info("Frame log opened", "path", path, "session", w.session)
	return w, nil
}

func (w *Writer) Session() string {
	return w.session
}

// Record appends p. Records after Close are dropped.
func (w *Writer) Record(p encode.Payload, mode types.Mode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	w.seq++
	rec := Record{
		Session: w.session,
		Seq:     w.seq,
		At:      w.now(),
		Mode:    mode,
		Kind:    p.Kind,
		Width:   p.Width,
		Height:  p.Height,
		Frames:  p.Frames,
		Digest:  p.Digest[:],
		Data:    p.Data,
	}
	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("write frame record %d: %w", rec.Seq, err)
	}
	w.logger.Debug("Frame recorded", "seq", rec.Seq, "kind", p.Kind, "bytes", len(p.Data))
	return nil
}

// Close closes the underlying file, if the writer owns one. It is safe to
// call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
