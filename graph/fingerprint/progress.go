package fingerprint

import "github.com/tidwall/gjson"

// IsProgressDetected compares field (a gjson dot path such as
// "research.sources") between the last two entries.
//
// Progress means: a number grew, an array got longer, a string got longer,
// the field appeared, or any other value changed. With fewer than two entries
// (or when older states were pruned) there is not enough evidence to claim
// stagnation and true is returned.
func IsProgressDetected(history []Entry, field string) bool {
	n := len(history)
	if n < 2 {
		return true
	}
	prevState, curState := history[n-2].State, history[n-1].State
	if prevState == nil || curState == nil {
		return true
	}

	prev := gjson.GetBytes(prevState, field)
	cur := gjson.GetBytes(curState, field)
	switch {
	case !cur.Exists():
		return false
	case !prev.Exists():
		return true
	case cur.Type == gjson.Number && prev.Type == gjson.Number:
		return cur.Num > prev.Num
	case cur.IsArray() && prev.IsArray():
		return len(cur.Array()) > len(prev.Array())
	case cur.Type == gjson.String && prev.Type == gjson.String:
		return len(cur.Str) > len(prev.Str)
	default:
		return cur.Raw != prev.Raw
	}
}
