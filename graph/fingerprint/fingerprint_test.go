package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type proposalState struct {
	Section   string   `json:"section"`
	Drafts    []string `json:"drafts"`
	LoopCount int      `json:"loopCount"`
	Timestamp int64    `json:"timestamp"`
	Review    struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	} `json:"review"`
}

func mustCompute(t *testing.T, state any, opts Options) Entry {
	t.Helper()
	e, err := Compute(state, opts)
	require.NoError(t, err)
	return e
}

func TestCompute(t *testing.T) {
	t.Run("deterministic and prefixed", func(t *testing.T) {
		s := proposalState{Section: "budget", Drafts: []string{"v1"}}
		a := mustCompute(t, s, Options{NodeName: "draft"})
		b := mustCompute(t, s, Options{})
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
		assert.True(t, strings.HasPrefix(a.Fingerprint, "sha256:"))
		assert.Len(t, a.Fingerprint, len("sha256:")+64)
		assert.Equal(t, "draft", a.NodeName)
		assert.JSONEq(t, `{"section":"budget","drafts":["v1"],"loopCount":0,"timestamp":0,"review":{"score":0,"comment":""}}`, string(a.State))
	})

	t.Run("map key order does not matter", func(t *testing.T) {
		a := mustCompute(t, map[string]any{"a": 1, "b": map[string]any{"x": true, "y": "z"}}, Options{})
		b := mustCompute(t, map[string]any{"b": map[string]any{"y": "z", "x": true}, "a": 1}, Options{})
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("volatile fields are ignored by default", func(t *testing.T) {
		s1 := proposalState{Section: "budget", LoopCount: 1, Timestamp: 100}
		s2 := proposalState{Section: "budget", LoopCount: 7, Timestamp: 999}
		assert.Equal(t, mustCompute(t, s1, Options{}).Fingerprint, mustCompute(t, s2, Options{}).Fingerprint)
		assert.NotEqual(t,
			mustCompute(t, s1, Options{KeepVolatile: true}).Fingerprint,
			mustCompute(t, s2, Options{KeepVolatile: true}).Fingerprint)
	})

	t.Run("semantic change alters fingerprint", func(t *testing.T) {
		s1 := proposalState{Section: "budget"}
		s2 := proposalState{Section: "timeline"}
		assert.NotEqual(t, mustCompute(t, s1, Options{}).Fingerprint, mustCompute(t, s2, Options{}).Fingerprint)
	})

	t.Run("exclude nested path", func(t *testing.T) {
		s1 := proposalState{Section: "budget"}
		s1.Review.Comment = "too long"
		s2 := proposalState{Section: "budget"}
		s2.Review.Comment = "fine"
		opts := Options{ExcludeFields: []string{"review.comment"}}
		assert.Equal(t, mustCompute(t, s1, opts).Fingerprint, mustCompute(t, s2, opts).Fingerprint)
	})

	t.Run("include keeps only listed paths", func(t *testing.T) {
		s1 := proposalState{Section: "budget", Drafts: []string{"a"}}
		s1.Review.Score = 3
		s2 := proposalState{Section: "timeline", Drafts: []string{"a", "b"}}
		s2.Review.Score = 3
		opts := Options{IncludeFields: []string{"review.score"}}
		assert.Equal(t, mustCompute(t, s1, opts).Fingerprint, mustCompute(t, s2, opts).Fingerprint)

		s2.Review.Score = 4
		assert.NotEqual(t, mustCompute(t, s1, opts).Fingerprint, mustCompute(t, s2, opts).Fingerprint)
	})

	t.Run("include and exclude conflict", func(t *testing.T) {
		_, err := Compute(proposalState{}, Options{IncludeFields: []string{"a"}, ExcludeFields: []string{"b"}})
		assert.ErrorIs(t, err, ErrConflictingFilters)
	})

	t.Run("normalize runs before hashing", func(t *testing.T) {
		lower := func(v any) any {
			m := v.(map[string]any)
			m["section"] = strings.ToLower(m["section"].(string))
			return m
		}
		a := mustCompute(t, proposalState{Section: "Budget"}, Options{Normalize: lower})
		b := mustCompute(t, proposalState{Section: "BUDGET"}, Options{Normalize: lower})
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("non-object states are hashed whole", func(t *testing.T) {
		a := mustCompute(t, []int{1, 2, 3}, Options{ExcludeFields: []string{"x"}})
		b := mustCompute(t, []int{1, 2, 4}, Options{})
		assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("unmarshalable state", func(t *testing.T) {
		_, err := Compute(map[string]any{"fn": func() {}}, Options{})
		assert.Error(t, err)
	})
}

func TestCompute_Properties(t *testing.T) {
	keys := rapid.StringMatching(`k_[a-z]{1,5}`)

	rapid.Check(t, func(t *rapid.T) {
		state := rapid.MapOf(keys, rapid.IntRange(-1000, 1000)).Draw(t, "state")
		a, err := Compute(state, Options{})
		if err != nil {
			t.Fatal(err)
		}
		b, err := Compute(state, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if a.Fingerprint != b.Fingerprint {
			t.Fatalf("fingerprint not deterministic: %s != %s", a.Fingerprint, b.Fingerprint)
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		base := rapid.MapOf(keys, rapid.IntRange(-1000, 1000)).Draw(t, "base")
		x := rapid.IntRange(-1000, 1000).Draw(t, "x")
		delta := rapid.IntRange(1, 50).Draw(t, "delta")

		s1 := map[string]any{"value": x, "noise": x}
		s2 := map[string]any{"value": x + delta, "noise": x}
		s3 := map[string]any{"value": x, "noise": x + delta}
		for k, v := range base {
			s1[k], s2[k], s3[k] = v, v, v
		}

		f1, _ := Compute(s1, Options{ExcludeFields: []string{"noise"}})
		f2, _ := Compute(s2, Options{ExcludeFields: []string{"noise"}})
		f3, _ := Compute(s3, Options{ExcludeFields: []string{"noise"}})
		if f1.Fingerprint == f2.Fingerprint {
			t.Fatalf("states differing in an included field collided")
		}
		if f1.Fingerprint != f3.Fingerprint {
			t.Fatalf("states differing only in an excluded field differ")
		}
	})
}
