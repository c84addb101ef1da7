package hwregistry

import "sync"

// SimActuator is an in-memory Actuator test double that records the last
// target it was given.
type SimActuator struct {
	mu   sync.Mutex
	last float64
}

func NewSimActuator() *SimActuator { return &SimActuator{} }

func (a *SimActuator) SetTarget(target float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = target
	return nil
}

func (a *SimActuator) LastTarget() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// SimRelay is an in-memory Relay test double.
type SimRelay struct {
	mu    sync.Mutex
	state bool
}

func NewSimRelay() *SimRelay { return &SimRelay{} }

func (r *SimRelay) SetState(state bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	return nil
}

func (r *SimRelay) State() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SimCamera is an in-memory Camera test double returning a fixed frame.
type SimCamera struct {
	Frame []byte
}

func NewSimCamera() *SimCamera { return &SimCamera{} }

func (c *SimCamera) ReadFrame() ([]byte, error) {
	return c.Frame, nil
}
