package crn

// ProgressFunc reports progress through the compression phases. It returns
// false to cancel.
type ProgressFunc func(phase, totalPhases, subphase, subphaseTotal int) bool

// Phases reported to ProgressFunc.
const (
	PhaseTiles = iota
	PhaseColorEndpoints
	PhaseAlphaEndpoints
	PhaseColorSelectors
	PhaseAlphaSelectors
	PhaseCodebooks
	PhaseRemapColor
	PhaseRemapAlpha
	PhasePackBlocks
	PhaseAssemble

	NumPhases
)

// progress throttles callbacks to one per phase and percentage step and
// latches cancellation.
type progress struct {
	fn        ProgressFunc
	canceled  bool
	prevPhase int
	prevPct   int
}

func newProgress(fn ProgressFunc) progress {
	return progress{fn: fn, prevPhase: -1, prevPct: -1}
}

// update must be called from the goroutine that started the operation.
func (p *progress) update(phase, subphase, subphaseTotal int) bool {
	if p.canceled {
		return false
	}
	if p.fn == nil {
		return true
	}
	pct := 100
	if subphaseTotal > 1 {
		pct = 100 * subphase / (subphaseTotal - 1)
	}
	if phase == p.prevPhase && pct == p.prevPct {
		return true
	}
	p.prevPhase, p.prevPct = phase, pct
	if !p.fn(phase, NumPhases, subphase, subphaseTotal) {
		p.canceled = true
		return false
	}
	return true
}

func (p *progress) check(phase int) error {
	if !p.update(phase, 0, 1) {
		return newError(ErrUserCanceled, "crn: canceled by progress callback")
	}
	return nil
}
