package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/Domenick1991/checkin/internal/monitoring"
)

type State string

const (
	StateNoPermissionRequested State = "no-permission-requested"
	StatePermissionGranted     State = "permission-granted"
	StatePermissionDenied      State = "permission-denied"
)

// ErrPermissionDenied is wrapped by providers when the device refuses access.
var ErrPermissionDenied = errors.New("camera permission denied")

const defaultErrorBackoff = 500 * time.Millisecond

func knownStates() []string {
	return []string{
		string(StateNoPermissionRequested),
		string(StatePermissionGranted),
		string(StatePermissionDenied),
	}
}

// Provider grants access to a camera and yields its frames.
type Provider interface {
	Open(ctx context.Context, facing domain.FacingMode) (Stream, error)
}

type Stream interface {
	// Next blocks until the next frame is available or ctx is done.
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

type Decoder interface {
	Decode(img image.Image) (string, error)
}

// DecodeHandler receives every decode outcome of the running loop.
type DecodeHandler interface {
	HandleDecode(payload string) bool
	HandleDecodeError(err error)
}

type Recorder interface {
	TrackCameraState(state string, known []string)
	TrackFrameError()
}

type CaptureOption func(*Capture)

func WithRecorder(r Recorder) CaptureOption {
	return func(c *Capture) {
		c.recorder = r
	}
}

// WithErrorBackoff sets the pause after a failed frame read.
func WithErrorBackoff(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.errorBackoff = d
		}
	}
}

// Capture owns the camera device and runs the decode loop while access is
// granted. Only one stream is open at a time.
type Capture struct {
	provider     Provider
	decoder      Decoder
	handler      DecodeHandler
	recorder     Recorder
	errorBackoff time.Duration

	// opMu serializes Start/Stop and friends; mu guards the fields below.
	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	facing domain.FacingMode
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCapture(provider Provider, decoder Decoder, handler DecodeHandler, facing domain.FacingMode, opts ...CaptureOption) *Capture {
	if !facing.Valid() {
		facing = domain.FacingBack
	}
	c := &Capture{
		provider:     provider,
		decoder:      decoder,
		handler:      handler,
		recorder:     monitoring.NewMonitor(),
		errorBackoff: defaultErrorBackoff,
		state:        StateNoPermissionRequested,
		facing:       facing,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recorder.TrackCameraState(string(c.state), knownStates())
	return c
}

// Start requests the camera with the given facing and begins decoding. A
// permission denial is returned as is and never retried automatically.
func (c *Capture) Start(ctx context.Context, facing domain.FacingMode) error {
	if !facing.Valid() {
		return fmt.Errorf("unknown facing mode %q", facing)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx, facing)
}

func (c *Capture) startLocked(ctx context.Context, facing domain.FacingMode) error {
	c.stopLocked()

	c.mu.Lock()
	c.facing = facing
	c.mu.Unlock()

	stream, err := c.provider.Open(ctx, facing)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.setState(StatePermissionDenied)
		}
		return fmt.Errorf("open %s camera: %w", facing, err)
	}
	c.setState(StatePermissionGranted)

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.loop(loopCtx, stream, done)
	log.Printf("camera: started %s stream", facing)
	return nil
}

func (c *Capture) loop(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	for {
		img, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrPermissionDenied) {
			// Access revoked mid-stream: report it and wait for an explicit retry.
			log.Printf("camera: access revoked: %v", err)
			c.setState(StatePermissionDenied)
			go c.release(done)
			return
		}
		if err != nil {
			c.recorder.TrackFrameError()
			log.Printf("camera: read frame: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.errorBackoff):
			}
			continue
		}

		payload, err := c.decoder.Decode(img)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.handler.HandleDecodeError(err)
			continue
		}
		c.handler.HandleDecode(payload)
	}
}

// Stop halts decoding and releases the device. Safe to call when stopped.
// No decode callback runs after Stop returns.
func (c *Capture) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
}

func (c *Capture) stopLocked() {
	c.mu.Lock()
	cancel, done, stream := c.cancel, c.done, c.stream
	c.cancel, c.done, c.stream = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if err := stream.Close(); err != nil {
		log.Printf("camera: close stream: %v", err)
	}
	log.Printf("camera: stopped")
}

// release tears down the stream whose loop exited on its own, unless a newer
// Start or Stop already replaced it.
func (c *Capture) release(done chan struct{}) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.done
	c.mu.Unlock()
	if current != done {
		return
	}
	c.stopLocked()
}

// SwitchFacing restarts capture on the other camera.
func (c *Capture) SwitchFacing(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopLocked()
	c.mu.Lock()
	next := c.facing.Opposite()
	c.mu.Unlock()
	return c.startLocked(ctx, next)
}

// Reload restarts capture with the same facing, to recover a stalled loop.
func (c *Capture) Reload(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx, c.Facing())
}

// Retry is the operator's explicit retry after a permission denial.
func (c *Capture) Retry(ctx context.Context) error {
	return c.Reload(ctx)
}

func (c *Capture) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.recorder.TrackCameraState(string(state), knownStates())
}

func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Capture) Facing() domain.FacingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
