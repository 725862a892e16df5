package sim

import "github.com/smazurov/svbcapture/pkg/svb"

type faults struct {
	method   map[string]error
	capsAt   map[int]error
	control  map[svb.ControlType]error
	frameErr error
	frameIn  int
	armed    bool
}

func (f *faults) take(method string) error {
	if err, ok := f.method[method]; ok {
		return err
	}
	return nil
}

func (f *faults) takeIndex(i int) error {
	return f.capsAt[i]
}

func (f *faults) takeControl(c svb.ControlType) error {
	return f.control[c]
}

func (f *faults) takeFrame() error {
	if !f.armed {
		return nil
	}
	if f.frameIn > 0 {
		f.frameIn--
		return nil
	}
	f.armed = false
	return f.frameErr
}

// FailMethod makes every call to the named method return err. A nil err
// clears the fault.
func (s *SDK) FailMethod(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.method == nil {
		s.faults.method = make(map[string]error)
	}
	if err == nil {
		delete(s.faults.method, method)
		return
	}
	s.faults.method[method] = err
}

// FailControlCaps makes ControlCaps fail for the descriptor at index.
func (s *SDK) FailControlCaps(index int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.capsAt == nil {
		s.faults.capsAt = make(map[int]error)
	}
	s.faults.capsAt[index] = err
}

// FailSetControl makes writes to ctrl fail with err.
func (s *SDK) FailSetControl(ctrl svb.ControlType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.control == nil {
		s.faults.control = make(map[svb.ControlType]error)
	}
	s.faults.control[ctrl] = err
}

// FailFrameAfter lets n more frames through, then fails one VideoData call
// with err.
func (s *SDK) FailFrameAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.frameIn = n
	s.faults.frameErr = err
	s.faults.armed = true
}
