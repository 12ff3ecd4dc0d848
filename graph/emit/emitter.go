// Package emit delivers workflow observability events to pluggable backends.
package emit

// Emitter receives workflow events.
//
// Implementations must be safe for concurrent use and must not block the
// workflow. Emit never returns an error; backends log their own failures.
type Emitter interface {
	Emit(event Event)
}

// Multi fans events out to every emitter in order. Nil entries are skipped.
func Multi(emitters ...Emitter) Emitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []Emitter

func (m multiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
