package session

// freeGate tracks whether a session is free (not attached to an
// in-flight callback). It reuses twinPair's replaceable-channel
// mechanics but only side A ("free") is meaningful to callers.
type freeGate struct{ pair *twinPair }

func newFreeGate() *freeGate {
	return &freeGate{pair: newTwinPair()} // side A (free) starts set
}

func (g *freeGate) setFree()        { g.pair.setA() }
func (g *freeGate) setBusy()        { g.pair.setB() }
func (g *freeGate) isFree() bool    { return g.pair.isA() }
func (g *freeGate) chanFree() <-chan struct{} { return g.pair.chanA() }

// suspendPair tracks hup_signal/awake_signal: side A is "awake" (the
// initial state), side B is "hup" (suspended).
type suspendPair struct{ pair *twinPair }

func newSuspendPair() *suspendPair {
	return &suspendPair{pair: newTwinPair()} // side A (awake) starts set
}

func (p *suspendPair) setAwake()            { p.pair.setA() }
func (p *suspendPair) setHup()              { p.pair.setB() }
func (p *suspendPair) isSuspended() bool    { return !p.pair.isA() }
func (p *suspendPair) chanAwake() <-chan struct{} { return p.pair.chanA() }
func (p *suspendPair) chanHup() <-chan struct{}   { return p.pair.chanB() }
