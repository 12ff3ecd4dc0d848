package interrupt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

type draft struct {
	Text     string `json:"text"`
	Revision int    `json:"revision"`
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator[draft], *store.MemStore[draft]) {
	t.Helper()
	var seq int64
	mem := store.NewMemStore[draft]()
	base := []Option{
		WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
		WithIDGenerator(func() string { return fmt.Sprintf("int-%d", atomic.AddInt64(&seq, 1)) }),
	}
	return NewCoordinator[draft](mem, append(base, opts...)...), mem
}

func pause(t *testing.T, c *Coordinator[draft], threadID string) store.Checkpoint[draft] {
	t.Helper()
	cp, err := c.Interrupt(context.Background(), threadID, draft{Text: "v1"}, Payload{
		Question: "Approve the draft?",
		Options:  []string{"approve", "modify", "reject"},
		Data:     json.RawMessage(`{"section":"intro"}`),
	}, store.Metadata{Node: "review", Step: 3})
	require.NoError(t, err)
	return cp
}

func TestCoordinator_Interrupt(t *testing.T) {
	t.Run("persists interrupted state", func(t *testing.T) {
		c, mem := newTestCoordinator(t)
		cp := pause(t, c, "t1")

		assert.Equal(t, int64(1), cp.Version)
		got, err := mem.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusInterrupted, got.Metadata.Status)
		assert.Equal(t, "review", got.Metadata.Node)
		assert.Equal(t, 3, got.Metadata.Step)
		require.NotNil(t, got.Metadata.Interrupt)
		assert.Equal(t, "int-1", got.Metadata.Interrupt.ID)
		assert.Equal(t, DefaultPayloadType, got.Metadata.Interrupt.Type)
		assert.JSONEq(t, `{"section":"intro"}`, string(got.Metadata.Interrupt.Data))
		assert.True(t, got.Metadata.Interrupt.Outstanding())
	})

	t.Run("second interrupt rejected", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pause(t, c, "t1")
		_, err := c.Interrupt(context.Background(), "t1", draft{}, Payload{Question: "again?"}, store.Metadata{})
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "t1", perr.ThreadID)
		assert.ErrorIs(t, err, ErrInterruptPending)
	})

	t.Run("missing thread id", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		_, err := c.Interrupt(context.Background(), "", draft{}, Payload{}, store.Metadata{})
		assert.ErrorIs(t, err, ErrMissingThreadID)
	})

	t.Run("interrupt after earlier checkpoints", func(t *testing.T) {
		c, mem := newTestCoordinator(t)
		_, err := mem.Put(context.Background(), "t1", store.Checkpoint[draft]{State: draft{Text: "v0"}})
		require.NoError(t, err)
		cp := pause(t, c, "t1")
		assert.Equal(t, int64(2), cp.Version)
	})

	t.Run("pending", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		_, err := c.Pending(context.Background(), "t1")
		assert.ErrorIs(t, err, ErrNoPendingInterrupt)

		pause(t, c, "t1")
		rec, err := c.Pending(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "Approve the draft?", rec.Question)
		p := PayloadOf(rec)
		assert.Equal(t, []string{"approve", "modify", "reject"}, p.Options)
	})
}

func TestCoordinator_Resume(t *testing.T) {
	routes := Routes{Approve: "publish", Modify: "revise", Reject: "discard"}

	t.Run("approve routes and consumes", func(t *testing.T) {
		c, mem := newTestCoordinator(t, WithRoutes(routes))
		pause(t, c, "t1")

		dec, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "approve"})
		require.NoError(t, err)
		assert.Equal(t, IntentApprove, dec.Intent)
		assert.Equal(t, "publish", dec.Next)
		assert.Equal(t, "review", dec.Node)
		assert.Equal(t, 3, dec.Step)
		assert.Equal(t, "v1", dec.State.Text)
		assert.Equal(t, int64(2), dec.Version)
		assert.NotNil(t, dec.Interrupt.ResolvedAt)

		got, err := mem.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusResuming, got.Metadata.Status)
		assert.False(t, got.Metadata.Interrupt.Outstanding())
		assert.Equal(t, "approve", got.Metadata.Interrupt.Resolution)
	})

	t.Run("second resume rejected", func(t *testing.T) {
		c, _ := newTestCoordinator(t, WithRoutes(routes))
		pause(t, c, "t1")
		_, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "approve"})
		require.NoError(t, err)

		_, err = c.Resume(context.Background(), "t1", ResumeInput{Action: "approve"})
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	})

	t.Run("concurrent resumes accept exactly one", func(t *testing.T) {
		c, _ := newTestCoordinator(t, WithRoutes(routes))
		pause(t, c, "t1")

		var wg sync.WaitGroup
		var ok, rejected int64
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "approve"})
				if err == nil {
					atomic.AddInt64(&ok, 1)
					return
				}
				if assert.ErrorIs(t, err, ErrAlreadyResolved) {
					atomic.AddInt64(&rejected, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), ok)
		assert.Equal(t, int64(7), rejected)
	})

	t.Run("no interrupt", func(t *testing.T) {
		c, mem := newTestCoordinator(t)
		_, err := c.Resume(context.Background(), "unknown", ResumeInput{Action: "approve"})
		assert.ErrorIs(t, err, ErrNoPendingInterrupt)

		_, err = mem.Put(context.Background(), "t2", store.Checkpoint[draft]{})
		require.NoError(t, err)
		_, err = c.Resume(context.Background(), "t2", ResumeInput{Action: "approve"})
		assert.ErrorIs(t, err, ErrNoPendingInterrupt)
	})

	t.Run("missing thread id", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		_, err := c.Resume(context.Background(), "", ResumeInput{Action: "approve"})
		assert.ErrorIs(t, err, ErrMissingThreadID)
	})

	t.Run("unmapped intent uses default", func(t *testing.T) {
		c, _ := newTestCoordinator(t, WithRoutes(Routes{Approve: "publish", Default: "human_feedback"}))
		pause(t, c, "t1")
		dec, err := c.Resume(context.Background(), "t1", ResumeInput{Feedback: "shorten the intro"})
		require.NoError(t, err)
		assert.Equal(t, IntentModify, dec.Intent)
		assert.Equal(t, "human_feedback", dec.Next)
	})

	t.Run("reject without route terminates", func(t *testing.T) {
		c, mem := newTestCoordinator(t)
		pause(t, c, "t1")
		dec, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "reject"})
		require.NoError(t, err)
		assert.True(t, dec.Terminated)
		got, _ := mem.Get(context.Background(), "t1")
		assert.Equal(t, store.StatusCompleted, got.Metadata.Status)
	})

	t.Run("question without route re-interrupts", func(t *testing.T) {
		c, mem := newTestCoordinator(t, WithRoutes(routes))
		pause(t, c, "t1")
		dec, err := c.Resume(context.Background(), "t1", ResumeInput{Feedback: "Which sources did you use?"})
		require.NoError(t, err)
		assert.True(t, dec.Reinterrupted)
		assert.Equal(t, IntentQuestion, dec.Intent)
		assert.Equal(t, "Which sources did you use?", dec.Interrupt.Question)
		assert.Equal(t, "int-2", dec.Interrupt.ID)

		got, _ := mem.Get(context.Background(), "t1")
		assert.Equal(t, store.StatusInterrupted, got.Metadata.Status)
		assert.True(t, got.Metadata.Interrupt.Outstanding())

		// the follow-up interrupt can itself be resumed once
		dec, err = c.Resume(context.Background(), "t1", ResumeInput{Action: "approve"})
		require.NoError(t, err)
		assert.Equal(t, "publish", dec.Next)
	})

	t.Run("question with route continues", func(t *testing.T) {
		c, _ := newTestCoordinator(t, WithRoutes(Routes{Question: "answer"}))
		pause(t, c, "t1")
		dec, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "ask", Feedback: "why?"})
		require.NoError(t, err)
		assert.False(t, dec.Reinterrupted)
		assert.Equal(t, "answer", dec.Next)
	})

	t.Run("classifier failure leaves interrupt pending", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pause(t, c, "t1")
		_, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "dance"})
		assert.ErrorIs(t, err, ErrUnclassified)

		_, err = c.Pending(context.Background(), "t1")
		assert.NoError(t, err)
	})

	t.Run("logs resume", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		c, _ := newTestCoordinator(t, WithLogger(zap.New(core)), WithRoutes(routes))
		pause(t, c, "t1")
		_, err := c.Resume(context.Background(), "t1", ResumeInput{Action: "modify"})
		require.NoError(t, err)
		entries := logs.FilterMessage("workflow resumed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "revise", entries[0].ContextMap()["next"])
	})
}

func TestRoutes_For(t *testing.T) {
	r := Routes{Approve: "a", Default: "d"}
	assert.Equal(t, "a", r.For(IntentApprove))
	assert.Equal(t, "d", r.For(IntentModify))
	assert.Equal(t, "d", r.For(Intent("other")))
	assert.Equal(t, "", Routes{}.For(IntentReject))
}

func TestDecodeResumeInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    ResumeInput
		wantErr bool
	}{
		{name: "action only", raw: map[string]any{"action": "approve"}, want: ResumeInput{Action: "approve"}},
		{name: "with feedback", raw: map[string]any{"action": "modify", "feedback": "tighten"}, want: ResumeInput{Action: "modify", Feedback: "tighten"}},
		{name: "weak types", raw: map[string]any{"action": 1}, want: ResumeInput{Action: "1"}},
		{name: "unknown key", raw: map[string]any{"action": "approve", "extra": true}, wantErr: true},
		{name: "empty", raw: map[string]any{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResumeInput(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResumeInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
