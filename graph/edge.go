package graph

// Edge is a transition between nodes, taken when When is nil or returns
// true for the current state. Edges from one node are evaluated in the
// order they were connected; the first match wins.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate decides whether an edge is taken.
type Predicate[S any] func(state S) bool
