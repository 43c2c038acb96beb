package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errNoCode = errors.New("no code")

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Open(ctx context.Context, facing domain.FacingMode) (Stream, error) {
	args := m.Called(ctx, facing)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Stream), args.Error(1)
}

// labeledFrame carries the payload a fake decoder should "find" in it.
type labeledFrame struct {
	*image.Gray
	payload string
}

func frame(payload string) image.Image {
	return labeledFrame{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), payload: payload}
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(img image.Image) (string, error) {
	f, ok := img.(labeledFrame)
	if !ok || f.payload == "" {
		return "", errNoCode
	}
	return f.payload, nil
}

type frameOrErr struct {
	img image.Image
	err error
}

type fakeStream struct {
	frames chan frameOrErr

	mu     sync.Mutex
	closed int
	events *[]string
	name   string
}

func newFakeStream(name string, events *[]string) *fakeStream {
	return &fakeStream{frames: make(chan frameOrErr, 16), name: name, events: events}
}

func (s *fakeStream) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-s.frames:
		return f.img, f.err
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.events != nil {
		*s.events = append(*s.events, "close "+s.name)
	}
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
	noise    int
}

func (h *recordingHandler) HandleDecode(payload string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
	return true
}

func (h *recordingHandler) HandleDecodeError(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.noise++
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.payloads...), h.noise
}

type fakeRecorder struct {
	mu          sync.Mutex
	states      []string
	frameErrors int
}

func (r *fakeRecorder) TrackCameraState(state string, known []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *fakeRecorder) TrackFrameError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameErrors++
}

func (r *fakeRecorder) errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameErrors
}

func newTestCapture(provider Provider) (*Capture, *recordingHandler, *fakeRecorder) {
	handler := &recordingHandler{}
	recorder := &fakeRecorder{}
	c := NewCapture(provider, fakeDecoder{}, handler, domain.FacingBack,
		WithRecorder(recorder), WithErrorBackoff(time.Millisecond))
	return c, handler, recorder
}

func TestCapture_InitialState(t *testing.T) {
	c, _, recorder := newTestCapture(&MockProvider{})

	assert.Equal(t, StateNoPermissionRequested, c.State())
	assert.Equal(t, domain.FacingBack, c.Facing())
	assert.False(t, c.Running())
	assert.Equal(t, []string{string(StateNoPermissionRequested)}, recorder.states)
}

func TestCapture_Start_DeliversDecodes(t *testing.T) {
	provider := &MockProvider{}
	stream := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(stream, nil).Once()

	c, handler, _ := newTestCapture(provider)

	require.NoError(t, c.Start(context.Background(), domain.FacingBack))
	assert.Equal(t, StatePermissionGranted, c.State())
	assert.True(t, c.Running())

	stream.frames <- frameOrErr{img: frame("")}
	stream.frames <- frameOrErr{img: frame("QR-1")}
	stream.frames <- frameOrErr{img: frame("QR-1")}

	require.Eventually(t, func() bool {
		payloads, noise := handler.snapshot()
		return len(payloads) == 2 && noise == 1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	assert.Equal(t, 1, stream.closeCount())
	provider.AssertExpectations(t)
}

func TestCapture_Start_OutlivesRequestContext(t *testing.T) {
	provider := &MockProvider{}
	stream := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(stream, nil).Once()

	c, handler, _ := newTestCapture(provider)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, domain.FacingBack))
	cancel()

	stream.frames <- frameOrErr{img: frame("QR-1")}
	require.Eventually(t, func() bool {
		payloads, _ := handler.snapshot()
		return len(payloads) == 1
	}, time.Second, 5*time.Millisecond)
	c.Stop()
}

func TestCapture_Start_PermissionDenied(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Open", mock.Anything, domain.FacingBack).
		Return(nil, errors.New("snapshot: status 403: "+ErrPermissionDenied.Error())).Once()

	c, _, _ := newTestCapture(provider)

	// Not wrapped: state must not flip to denied.
	err := c.Start(context.Background(), domain.FacingBack)
	require.Error(t, err)
	assert.Equal(t, StateNoPermissionRequested, c.State())

	provider.On("Open", mock.Anything, domain.FacingBack).
		Return(nil, ErrPermissionDenied).Once()

	err = c.Start(context.Background(), domain.FacingBack)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StatePermissionDenied, c.State())
	assert.False(t, c.Running())

	// Denial is reported once; nothing retries on its own.
	time.Sleep(20 * time.Millisecond)
	provider.AssertNumberOfCalls(t, "Open", 2)
}

func TestCapture_Retry_AfterDenial(t *testing.T) {
	provider := &MockProvider{}
	stream := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(nil, ErrPermissionDenied).Once()
	provider.On("Open", mock.Anything, domain.FacingBack).Return(stream, nil).Once()

	c, _, recorder := newTestCapture(provider)

	require.ErrorIs(t, c.Start(context.Background(), domain.FacingBack), ErrPermissionDenied)
	require.NoError(t, c.Retry(context.Background()))

	assert.Equal(t, StatePermissionGranted, c.State())
	assert.True(t, c.Running())
	assert.Equal(t, []string{
		string(StateNoPermissionRequested),
		string(StatePermissionDenied),
		string(StatePermissionGranted),
	}, recorder.states)

	c.Stop()
	provider.AssertExpectations(t)
}

func TestCapture_Stop_Idempotent(t *testing.T) {
	provider := &MockProvider{}
	stream := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(stream, nil).Once()

	c, handler, _ := newTestCapture(provider)

	c.Stop()

	require.NoError(t, c.Start(context.Background(), domain.FacingBack))
	c.Stop()
	c.Stop()

	assert.False(t, c.Running())
	assert.Equal(t, 1, stream.closeCount())
	assert.Equal(t, StatePermissionGranted, c.State())

	// Frames arriving on a stopped stream never reach the handler.
	stream.frames <- frameOrErr{img: frame("QR-LATE")}
	assert.Never(t, func() bool {
		payloads, _ := handler.snapshot()
		return len(payloads) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCapture_SwitchFacing(t *testing.T) {
	var events []string
	provider := &MockProvider{}
	back := newFakeStream("back", &events)
	front := newFakeStream("front", &events)

	provider.On("Open", mock.Anything, domain.FacingBack).Return(back, nil).Once()
	provider.On("Open", mock.Anything, domain.FacingFront).
		Run(func(mock.Arguments) { events = append(events, "open front") }).
		Return(front, nil).Once()

	c, handler, _ := newTestCapture(provider)

	require.NoError(t, c.Start(context.Background(), domain.FacingBack))
	require.NoError(t, c.SwitchFacing(context.Background()))

	assert.Equal(t, domain.FacingFront, c.Facing())
	assert.True(t, c.Running())
	assert.Equal(t, []string{"close back", "open front"}, events)

	back.frames <- frameOrErr{img: frame("QR-OLD")}
	front.frames <- frameOrErr{img: frame("QR-NEW")}

	require.Eventually(t, func() bool {
		payloads, _ := handler.snapshot()
		return len(payloads) == 1
	}, time.Second, 5*time.Millisecond)
	payloads, _ := handler.snapshot()
	assert.Equal(t, []string{"QR-NEW"}, payloads)

	c.Stop()
	provider.AssertExpectations(t)
}

func TestCapture_SwitchFacing_FailureKeepsNewFacing(t *testing.T) {
	provider := &MockProvider{}
	back := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(back, nil).Once()
	provider.On("Open", mock.Anything, domain.FacingFront).Return(nil, errors.New("no front camera")).Once()

	c, _, _ := newTestCapture(provider)

	require.NoError(t, c.Start(context.Background(), domain.FacingBack))
	err := c.SwitchFacing(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.FacingFront, c.Facing())
	assert.False(t, c.Running())
	assert.Equal(t, 1, back.closeCount())
}

func TestCapture_Reload(t *testing.T) {
	provider := &MockProvider{}
	first := newFakeStream("first", nil)
	second := newFakeStream("second", nil)
	provider.On("Open", mock.Anything, domain.FacingFront).Return(first, nil).Once()
	provider.On("Open", mock.Anything, domain.FacingFront).Return(second, nil).Once()

	c, _, _ := newTestCapture(provider)

	require.NoError(t, c.Start(context.Background(), domain.FacingFront))
	require.NoError(t, c.Reload(context.Background()))

	assert.Equal(t, domain.FacingFront, c.Facing())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 0, second.closeCount())
	assert.True(t, c.Running())

	c.Stop()
	assert.Equal(t, 1, second.closeCount())
	provider.AssertExpectations(t)
}

func TestCapture_FrameErrorsKeepPolling(t *testing.T) {
	provider := &MockProvider{}
	stream := newFakeStream("back", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(stream, nil).Once()

	c, handler, recorder := newTestCapture(provider)
	require.NoError(t, c.Start(context.Background(), domain.FacingBack))

	stream.frames <- frameOrErr{err: errors.New("connection reset")}
	stream.frames <- frameOrErr{err: errors.New("connection reset")}
	stream.frames <- frameOrErr{img: frame("QR-1")}

	require.Eventually(t, func() bool {
		payloads, _ := handler.snapshot()
		return len(payloads) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, recorder.errors())

	c.Stop()
}

func TestCapture_PermissionRevokedMidStream(t *testing.T) {
	provider := &MockProvider{}
	first := newFakeStream("first", nil)
	second := newFakeStream("second", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(first, nil).Once()
	provider.On("Open", mock.Anything, domain.FacingBack).Return(second, nil).Once()

	c, handler, recorder := newTestCapture(provider)
	require.NoError(t, c.Start(context.Background(), domain.FacingBack))

	for i := 0; i < 5; i++ {
		first.frames <- frameOrErr{err: fmt.Errorf("snapshot status 401: %w", ErrPermissionDenied)}
	}

	require.Eventually(t, func() bool {
		return c.State() == StatePermissionDenied && !c.Running()
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return first.closeCount() == 1
	}, time.Second, 5*time.Millisecond)

	// No polling continues after the denial.
	assert.Never(t, func() bool {
		return len(first.frames) < 4
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, recorder.errors())
	provider.AssertNumberOfCalls(t, "Open", 1)

	c.Stop()
	assert.Equal(t, 1, first.closeCount())

	require.NoError(t, c.Retry(context.Background()))
	assert.Equal(t, StatePermissionGranted, c.State())
	assert.True(t, c.Running())

	second.frames <- frameOrErr{img: frame("QR-1")}
	require.Eventually(t, func() bool {
		payloads, _ := handler.snapshot()
		return len(payloads) == 1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	provider.AssertExpectations(t)
}

func TestCapture_RevokedStreamDoesNotStopNewerStart(t *testing.T) {
	provider := &MockProvider{}
	first := newFakeStream("first", nil)
	second := newFakeStream("second", nil)
	provider.On("Open", mock.Anything, domain.FacingBack).Return(first, nil).Once()
	provider.On("Open", mock.Anything, domain.FacingBack).Return(second, nil).Once()

	c, _, _ := newTestCapture(provider)
	require.NoError(t, c.Start(context.Background(), domain.FacingBack))

	first.frames <- frameOrErr{err: ErrPermissionDenied}
	require.Eventually(t, func() bool {
		return c.State() == StatePermissionDenied
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Retry(context.Background()))

	assert.Never(t, func() bool {
		return !c.Running()
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 0, second.closeCount())

	c.Stop()
}

func TestCapture_Start_InvalidFacing(t *testing.T) {
	provider := &MockProvider{}
	c, _, _ := newTestCapture(provider)

	err := c.Start(context.Background(), domain.FacingMode("side"))

	require.Error(t, err)
	provider.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}
