package safety

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const maxCallbacks = 8

// Config holds the fixed parameters of a safety service instance: the
// two torque ceilings, the challenge-response timing, and the fault
// detection thresholds. All are configuration, not code.
type Config struct {
	SafeLimitNm      float64
	HighLimitNm      float64
	ChallengeTimeout time.Duration
	RequiredCombo    byte
	RequiredHoldMs   uint16
	MinFaultDwell    time.Duration
	SoftStopDecay    time.Duration
	Thresholds       FaultThresholds
}

// Ack mirrors the wire SafetyAck fields the caller has already decoded
// and CRC-validated; Service only evaluates the safety semantics.
type Ack struct {
	ChallengeToken uint32
	DeviceToken    uint32
	ComboCompleted byte
	ActualHoldMs   uint16
	CRCValid       bool
}

// Service is the C4 safety subsystem: a mutex-protected state machine
// with a lock-free atomic snapshot of the current torque ceiling for
// the RT hot path. Mutation always goes through the exported methods;
// ClampTorqueNm never blocks on the mutex.
type Service struct {
	mu sync.Mutex

	cfg        Config
	state      State
	detectors  *Detectors
	softStop   *SoftStopController
	now        func() time.Time

	faultCallbacks    [maxCallbacks]func(FaultKind)
	faultCallbackN    int
	recoveryCallbacks [maxCallbacks]func()
	recoveryCallbackN int

	ceilingBits atomic.Uint64
}

func NewService(cfg Config) *Service {
	s := &Service{
		cfg:       cfg,
		state:     State{Kind: StateSafeTorque},
		detectors: NewDetectors(cfg.Thresholds),
		softStop:  NewSoftStopController(cfg.SoftStopDecay),
		now:       time.Now,
	}
	s.storeCeiling(cfg.SafeLimitNm)
	return s
}

func (s *Service) storeCeiling(v float64) {
	s.ceilingBits.Store(math.Float64bits(v))
}

// ClampTorqueNm is the RT hot path: non-finite inputs map to zero,
// otherwise the result is clamped to [-ceiling, +ceiling]. It reads an
// atomic snapshot and never acquires the mutex.
func (s *Service) ClampTorqueNm(requestedNm float64) float64 {
	if math.IsNaN(requestedNm) || math.IsInf(requestedNm, 0) {
		return 0
	}
	ceiling := math.Float64frombits(s.ceilingBits.Load())
	if requestedNm > ceiling {
		return ceiling
	}
	if requestedNm < -ceiling {
		return -ceiling
	}
	return requestedNm
}

// State returns a copy of the current safety state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func stateMax(st State, cfg Config) float64 {
	switch st.Kind {
	case StateFaulted:
		return 0
	case StateHighTorqueActive:
		return cfg.HighLimitNm
	default:
		return cfg.SafeLimitNm
	}
}

// recomputeCeiling must be called with mu held after any state change
// or soft-stop update. Soft-stop, when active, overrides the state's
// nominal max.
func (s *Service) recomputeCeiling() {
	if s.softStop.IsActive() {
		s.storeCeiling(s.softStop.current())
		return
	}
	s.storeCeiling(stateMax(s.state, s.cfg))
}

// ReportFault transitions to Faulted from any state, begins the
// soft-stop ramp from currentTorqueNm, and fires fault callbacks.
func (s *Service) ReportFault(kind FaultKind, currentTorqueNm float64) {
	s.mu.Lock()
	s.state = State{Kind: StateFaulted, Fault: kind, OccurredAt: s.now()}
	s.softStop.StartSoftStop(currentTorqueNm)
	s.recomputeCeiling()
	cbs := s.faultCallbacks
	n := s.faultCallbackN
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		cbs[i](kind)
	}
}

// ClearFault moves Faulted back to SafeTorque once the minimum dwell
// has elapsed and the fault kind is recoverable.
func (s *Service) ClearFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Kind != StateFaulted {
		return ErrNoActiveFault
	}
	if !s.state.Fault.IsRecoverable() {
		return ErrNotRecoverable
	}
	if s.now().Sub(s.state.OccurredAt) < s.cfg.MinFaultDwell {
		return ErrDwellNotElapsed
	}

	kind := s.state.Fault
	s.detectors.Reset(kind)
	s.softStop.Reset()
	s.state = State{Kind: StateSafeTorque}
	s.recomputeCeiling()

	cbs := s.recoveryCallbacks
	n := s.recoveryCallbackN
	s.mu.Unlock()
	for i := 0; i < n; i++ {
		cbs[i]()
	}
	s.mu.Lock()
	return nil
}

// UpdateSoftStop advances an active ramp by delta and recomputes the
// atomic ceiling. The RT loop calls this once per tick; it is a no-op
// when no ramp is active.
func (s *Service) UpdateSoftStop(delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.softStop.IsActive() {
		s.softStop.Update(delta)
		s.recomputeCeiling()
	}
}

// ForceStopSoftStop collapses any active ramp immediately.
func (s *Service) ForceStopSoftStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.softStop.ForceStop()
	s.recomputeCeiling()
}

// RequestHighTorque moves SafeTorque to AwaitingUiConsent, minting a
// fresh random challenge token.
func (s *Service) RequestHighTorque() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateSafeTorque {
		return 0, ErrWrongState
	}
	token := randomToken()
	s.state = State{
		Kind:           StateAwaitingUiConsent,
		ChallengeToken: token,
		ComboType:      s.cfg.RequiredCombo,
		HoldDurationMs: s.cfg.RequiredHoldMs,
		ExpiresAt:      s.now().Add(s.cfg.ChallengeTimeout),
	}
	return token, nil
}

// ProvideUIConsent moves AwaitingUiConsent to AwaitingPhysicalAck when
// token matches and the challenge has not expired.
func (s *Service) ProvideUIConsent(token uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateAwaitingUiConsent {
		return ErrWrongState
	}
	if s.now().After(s.state.ExpiresAt) {
		s.state = State{Kind: StateSafeTorque}
		s.recomputeCeiling()
		return ErrChallengeExpired
	}
	if token != s.state.ChallengeToken {
		return ErrBadToken
	}
	s.state = State{
		Kind:           StateAwaitingPhysicalAck,
		ChallengeToken: s.state.ChallengeToken,
		ComboType:      s.state.ComboType,
		HoldDurationMs: s.state.HoldDurationMs,
		ExpiresAt:      s.state.ExpiresAt,
	}
	return nil
}

// ConfirmHighTorque moves AwaitingPhysicalAck to HighTorqueActive when
// every interlock condition holds; otherwise it reports
// SafetyInterlockViolation and returns an error.
func (s *Service) ConfirmHighTorque(ack Ack, handsOn bool, currentTorqueNm float64) error {
	s.mu.Lock()
	if s.state.Kind != StateAwaitingPhysicalAck {
		s.mu.Unlock()
		return ErrWrongState
	}
	st := s.state
	valid := ack.CRCValid &&
		ack.ChallengeToken == st.ChallengeToken &&
		ack.ComboCompleted == st.ComboType &&
		ack.ActualHoldMs >= st.HoldDurationMs &&
		!s.now().After(st.ExpiresAt) &&
		handsOn

	if !valid {
		s.mu.Unlock()
		s.ReportFault(FaultSafetyInterlockViolation, currentTorqueNm)
		return ErrInterlockViolated
	}

	s.state = State{
		Kind:        StateHighTorqueActive,
		DeviceToken: ack.DeviceToken,
		GrantedAt:   s.now(),
	}
	s.recomputeCeiling()
	s.mu.Unlock()
	return nil
}

// Downgrade moves HighTorqueActive back to SafeTorque unconditionally,
// without raising a fault. The service never calls it itself and does
// not detect hands-off timeout, device-token expiry, or disconnect.
func (s *Service) Downgrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateHighTorqueActive {
		return
	}
	s.state = State{Kind: StateSafeTorque}
	s.recomputeCeiling()
}

// OnFault registers a callback invoked synchronously from ReportFault.
// Returns false if the fixed-capacity callback table is full.
func (s *Service) OnFault(cb func(FaultKind)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultCallbackN >= maxCallbacks {
		return false
	}
	s.faultCallbacks[s.faultCallbackN] = cb
	s.faultCallbackN++
	return true
}

// OnRecovery registers a callback invoked synchronously from a
// successful ClearFault. Returns false if the table is full.
func (s *Service) OnRecovery(cb func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recoveryCallbackN >= maxCallbacks {
		return false
	}
	s.recoveryCallbacks[s.recoveryCallbackN] = cb
	s.recoveryCallbackN++
	return true
}

// Detectors exposes the FMEA detector set so the RT loop can feed it
// evidence each tick.
func (s *Service) Detectors() *Detectors { return s.detectors }

// IsSoftStopActive reports whether a soft-stop ramp is currently
// overriding the state's nominal ceiling.
func (s *Service) IsSoftStopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softStop.IsActive()
}

func randomToken() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is exceptional; fall back to a
		// time-derived value rather than a zero token.
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(buf[:])
}
