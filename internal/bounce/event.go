package bounce

// EventType names a notification emitted while scanning a message
type EventType string

const (
	EventLine   EventType = "line"   // a logical line was read (text mode)
	EventMatch  EventType = "match"  // a header value was captured
	EventDetect EventType = "detect" // a header value matched its bounce pattern
	EventEnd    EventType = "end"    // an asynchronous detection finished
)

// Event carries the payload of one notification. Only the fields relevant to
// Type are set.
type Event struct {
	Type    EventType
	Line    string
	Header  string
	Value   string
	Matches []Match
	Result  *Result
	Err     error
}

// Observer receives notifications. Observers run synchronously on the
// goroutine performing the scan and must not call Close.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

type emitFunc func(Event)

func (f emitFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}
