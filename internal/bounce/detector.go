package bounce

import (
	"fmt"
	"log"
	"reflect"
	"sync"
)

// Detector scores messages against a Registry. A Detector may be used from
// several goroutines; each detection builds its own maps and shares only the
// read-only registry.
type Detector struct {
	registry *Registry
	max      int

	mu        sync.RWMutex
	observers map[int]Observer
	order     []int
	nextID    int

	loopOnce sync.Once
	loop     *loop
}

// Option configures a Detector
type Option func(*Detector)

// WithRegistry replaces the default header registry
func WithRegistry(r *Registry) Option {
	return func(d *Detector) { d.registry = r }
}

// WithObserver subscribes o before the Detector is used
func WithObserver(o Observer) Option {
	return func(d *Detector) { d.Subscribe(o) }
}

// New creates a Detector. The score denominator is fixed here to the size
// of the registry.
func New(opts ...Option) *Detector {
	d := &Detector{
		registry:  DefaultRegistry(),
		observers: make(map[int]Observer),
		loop:      newLoop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.max = d.registry.Len()
	return d
}

// Registry returns the registry the Detector scores against
func (d *Detector) Registry() *Registry { return d.registry }

// Max returns the score denominator
func (d *Detector) Max() int { return d.max }

// Subscribe adds an observer and returns a function removing it
func (d *Detector) Subscribe(o Observer) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = o
	d.order = append(d.order, id)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.observers[id]; !ok {
			return
		}
		delete(d.observers, id)
		for i, v := range d.order {
			if v == id {
				d.order = append(d.order[:i:i], d.order[i+1:]...)
				break
			}
		}
	}
}

func (d *Detector) emit(e Event) {
	d.mu.RLock()
	observers := make([]Observer, 0, len(d.order))
	for _, id := range d.order {
		observers = append(observers, d.observers[id])
	}
	d.mu.RUnlock()

	for _, o := range observers {
		o.Notify(e)
	}
}

// DetectSync scans msg and returns its score. Text ([]byte or string) is
// re-encoded to ASCII and read line by line; structured input (Node, *Node,
// or any map, slice or array value) is searched for "headers" lists. Any
// other type fails with an error wrapping ErrInvalidInput.
func (d *Detector) DetectSync(msg any) (*Result, error) {
	var headers *HeaderMap
	switch m := msg.(type) {
	case string:
		text, err := ToASCII(m)
		if err != nil {
			return nil, err
		}
		headers = ExtractText(d.registry, text, d.emit)
	case []byte:
		text, err := ToASCII(string(m))
		if err != nil {
			return nil, err
		}
		headers = ExtractText(d.registry, text, d.emit)
	case Node:
		headers = ExtractTree(m, d.emit)
	case *Node:
		if m == nil {
			return nil, invalidInput(msg)
		}
		headers = ExtractTree(*m, d.emit)
	case map[string]any, []any:
		root, err := FromValue(m)
		if err != nil {
			return nil, err
		}
		headers = ExtractTree(root, d.emit)
	default:
		if !structured(msg) {
			return nil, invalidInput(msg)
		}
		root, err := FromValue(msg)
		if err != nil {
			return nil, err
		}
		headers = ExtractTree(root, d.emit)
	}

	headers = d.registry.Restrict(headers)
	matches := MatchHeaders(d.registry, headers, d.emit)
	score := Score(d.registry, headers, matches, d.max)

	return &Result{
		Matches: matches,
		Headers: headers,
		Score:   score,
		Bounced: score > 0,
		Max:     d.max,
	}, nil
}

// structured reports whether msg is a map, slice or array that FromValue can
// walk. Pointers to them count too.
func structured(msg any) bool {
	rv := reflect.ValueOf(msg)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// Detect queues msg for detection on the Detector's event loop and returns
// immediately. The outcome is sent on the returned channel and to observers
// as a single EventEnd; a panic during the scan is reported as its error.
func (d *Detector) Detect(msg any) <-chan Outcome {
	out := make(chan Outcome, 1)
	d.loopOnce.Do(d.loop.start)

	if !d.loop.post(func() { d.finish(out, d.detectRecover(msg)) }) {
		d.finish(out, Outcome{Err: ErrClosed})
	}
	return out
}

func (d *Detector) detectRecover(msg any) (o Outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = Outcome{Err: fmt.Errorf("detect: panic: %v", p)}
		}
	}()
	res, err := d.DetectSync(msg)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Result: res}
}

func (d *Detector) finish(out chan<- Outcome, o Outcome) {
	out <- o
	defer func() {
		if p := recover(); p != nil {
			log.Printf("Warning: observer panicked on end notification: %v", p)
		}
	}()
	d.emit(Event{Type: EventEnd, Result: o.Result, Err: o.Err})
}

// Close waits for queued detections to finish and stops the event loop.
// Later calls to Detect report ErrClosed.
func (d *Detector) Close() {
	d.loopOnce.Do(func() {})
	d.loop.close()
}
