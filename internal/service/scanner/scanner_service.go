package scanner

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/Domenick1991/checkin/internal/monitoring"
	"github.com/Domenick1991/checkin/internal/remote"
	"github.com/google/uuid"
)

const (
	PromptMessage     = "Ready to scan"
	ProcessingMessage = "Processing..."
	FailedMessage     = "Check-in failed"
	SuccessMessage    = "Checked in"
	UsedMessage       = "Ticket already checked in"
	WrongEventMessage = "Ticket is for a different event"

	defaultResetDelay     = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

type ScannerUseCase interface {
	HandleDecode(payload string) bool
	HandleDecodeError(err error)
	Reset()
	Result() domain.ScanResult
	Busy() bool
	EventID() int64
	Subscribe() (<-chan domain.ScanResult, func())
}

type CheckInService interface {
	CheckIn(ctx context.Context, eventID int64, qrCode string) (*domain.CheckInResponse, error)
}

type Recorder interface {
	TrackDecode(outcome string)
	TrackCheckIn(status string, duration time.Duration)
}

type ServiceOption func(*Service)

func WithResetDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resetDelay = d
		}
	}
}

func WithRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// Service turns a stream of decoded payloads into at most one in-flight
// check-in call and keeps the status shown to the operator.
type Service struct {
	checkins       CheckInService
	eventID        int64
	recorder       Recorder
	resetDelay     time.Duration
	requestTimeout time.Duration

	// afterFunc schedules the auto-reset; it returns a stop function.
	afterFunc func(d time.Duration, f func()) func() bool

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	busy        bool
	lastPayload string
	generation  uint64
	stopTimer   func() bool
	result      domain.ScanResult
	subscribers map[int]chan domain.ScanResult
	nextSubID   int
	closed      bool
}

func NewService(checkins CheckInService, eventID int64, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	service := &Service{
		checkins:       checkins,
		eventID:        eventID,
		recorder:       monitoring.NewMonitor(),
		resetDelay:     defaultResetDelay,
		requestTimeout: defaultRequestTimeout,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		ctx:         ctx,
		cancel:      cancel,
		result:      idleResult(),
		subscribers: make(map[int]chan domain.ScanResult),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func idleResult() domain.ScanResult {
	return domain.ScanResult{Status: domain.ScanStatusIdle, Message: PromptMessage}
}

// HandleDecode is called for every successful frame decode. It returns true
// when the payload started a new check-in attempt.
func (s *Service) HandleDecode(payload string) bool {
	if strings.TrimSpace(payload) == "" {
		s.recorder.TrackDecode(monitoring.DecodeNoise)
		return false
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.recorder.TrackDecode(monitoring.DecodeBusy)
		return false
	}
	if payload == s.lastPayload {
		s.mu.Unlock()
		s.recorder.TrackDecode(monitoring.DecodeDuplicate)
		return false
	}

	s.busy = true
	s.lastPayload = payload
	s.generation++
	gen := s.generation
	s.setResultLocked(domain.ScanResult{Status: domain.ScanStatusScanning, Message: ProcessingMessage})
	s.mu.Unlock()

	s.recorder.TrackDecode(monitoring.DecodeAccepted)
	go s.checkIn(gen, payload)
	return true
}

// HandleDecodeError receives frames without a readable code. They are normal
// and never change the status.
func (s *Service) HandleDecodeError(error) {
	s.recorder.TrackDecode(monitoring.DecodeNoise)
}

func (s *Service) checkIn(gen uint64, payload string) {
	attemptID := uuid.NewString()
	ctx, cancel := context.WithTimeout(remote.WithRequestID(s.ctx, attemptID), s.requestTimeout)
	defer cancel()

	started := time.Now()
	resp, err := s.checkins.CheckIn(ctx, s.eventID, payload)
	result := classify(resp, err)
	s.recorder.TrackCheckIn(string(result.Status), time.Since(started))

	if err != nil {
		log.Printf("check-in %s for event %d failed: %v", attemptID, s.eventID, err)
	} else {
		log.Printf("check-in %s for event %d: %s", attemptID, s.eventID, resp.Status)
	}

	s.settle(gen, result)
}

func classify(resp *domain.CheckInResponse, err error) domain.ScanResult {
	if err != nil {
		return domain.ScanResult{Status: domain.ScanStatusError, Message: failureMessage(err)}
	}
	if resp == nil {
		return domain.ScanResult{Status: domain.ScanStatusError, Message: FailedMessage}
	}

	switch resp.Status {
	case domain.CheckInStatusSuccess:
		result := domain.ScanResult{Status: domain.ScanStatusSuccess, Message: messageOr(resp.Message, SuccessMessage)}
		if d := resp.TicketDetails; d != nil {
			result.TicketInfo = &domain.TicketInfo{
				HolderName:       d.UserName,
				TicketType:       d.TicketType,
				CheckInTimestamp: d.CheckInTime,
			}
		}
		return result
	case domain.CheckInStatusAlreadyCheckedIn:
		return domain.ScanResult{Status: domain.ScanStatusAlreadyUsed, Message: messageOr(resp.Message, UsedMessage)}
	case domain.CheckInStatusWrongEvent:
		return domain.ScanResult{Status: domain.ScanStatusError, Message: messageOr(resp.Message, WrongEventMessage)}
	default:
		return domain.ScanResult{Status: domain.ScanStatusError, Message: messageOr(resp.Message, FailedMessage)}
	}
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

func failureMessage(err error) string {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FailedMessage
}

func (s *Service) settle(gen uint64, result domain.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A manual reset or a newer attempt owns the state now.
	if s.closed || gen != s.generation {
		return
	}

	s.setResultLocked(result)
	if s.stopTimer != nil {
		s.stopTimer()
	}
	s.stopTimer = s.afterFunc(s.resetDelay, func() { s.autoReset(gen) })
}

func (s *Service) autoReset(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.generation || !s.busy {
		return
	}
	s.clearLocked()
}

// Reset is the operator's "scan another ticket": it re-enables scanning at
// once, including the code that was just scanned. A request still in flight
// is not cancelled but its result is dropped.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.stopTimer != nil {
		s.stopTimer()
	}
	s.clearLocked()
}

func (s *Service) clearLocked() {
	s.busy = false
	s.lastPayload = ""
	s.stopTimer = nil
	s.setResultLocked(idleResult())
}

func (s *Service) setResultLocked(result domain.ScanResult) {
	s.result = result
	for _, ch := range s.subscribers {
		publishLatest(ch, copyResult(result))
	}
}

// publishLatest keeps only the newest status in a subscriber's buffer.
func publishLatest(ch chan domain.ScanResult, result domain.ScanResult) {
	select {
	case ch <- result:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- result:
	default:
	}
}

func (s *Service) Result() domain.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyResult(s.result)
}

func copyResult(r domain.ScanResult) domain.ScanResult {
	if r.TicketInfo != nil {
		info := *r.TicketInfo
		r.TicketInfo = &info
	}
	return r
}

func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Service) EventID() int64 {
	return s.eventID
}

// Subscribe returns a channel that receives the current status followed by
// every later transition. Slow readers only see the newest one.
func (s *Service) Subscribe() (<-chan domain.ScanResult, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan domain.ScanResult, 1)
	ch <- copyResult(s.result)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Close aborts in-flight calls and the pending auto-reset. Results that
// arrive afterwards are dropped.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
}

var _ ScannerUseCase = (*Service)(nil)
