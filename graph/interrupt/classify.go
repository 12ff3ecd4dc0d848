package interrupt

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/rudihinds/langgraph-agent-sub011/graph/model"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// Intent is the classified meaning of a resume input.
type Intent string

const (
	IntentApprove  Intent = "approve"
	IntentModify   Intent = "modify"
	IntentReject   Intent = "reject"
	IntentQuestion Intent = "question"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentApprove, IntentModify, IntentReject, IntentQuestion:
		return true
	}
	return false
}

// Classification is the result of classifying one resume input.
type Classification struct {
	Intent Intent

	// Question is set for IntentQuestion: what the human asked.
	Question string

	Reason string
}

// Classifier decides the intent of a resume input against the pending
// interrupt it answers.
type Classifier interface {
	Classify(ctx context.Context, pending store.Interrupt, in ResumeInput) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, pending store.Interrupt, in ResumeInput) (Classification, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, pending store.Interrupt, in ResumeInput) (Classification, error) {
	return f(ctx, pending, in)
}

var actionAliases = map[string]Intent{
	"approve":  IntentApprove,
	"approved": IntentApprove,
	"accept":   IntentApprove,
	"continue": IntentApprove,
	"yes":      IntentApprove,
	"ok":       IntentApprove,
	"modify":   IntentModify,
	"edit":     IntentModify,
	"revise":   IntentModify,
	"change":   IntentModify,
	"reject":   IntentReject,
	"rejected": IntentReject,
	"deny":     IntentReject,
	"cancel":   IntentReject,
	"abort":    IntentReject,
	"no":       IntentReject,
	"question": IntentQuestion,
	"ask":      IntentQuestion,
	"clarify":  IntentQuestion,
}

// ActionClassifier classifies by the action field, falling back to the
// shape of the feedback: a trailing question mark is a question, any other
// feedback is a modification request.
type ActionClassifier struct{}

// Classify implements Classifier.
func (ActionClassifier) Classify(_ context.Context, _ store.Interrupt, in ResumeInput) (Classification, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	feedback := strings.TrimSpace(in.Feedback)

	if intent, ok := actionAliases[action]; ok {
		c := Classification{Intent: intent, Reason: "action " + action}
		if intent == IntentQuestion {
			c.Question = feedback
		}
		return c, nil
	}
	switch {
	case strings.HasSuffix(feedback, "?"):
		return Classification{Intent: IntentQuestion, Question: feedback, Reason: "feedback is a question"}, nil
	case feedback != "":
		return Classification{Intent: IntentModify, Reason: "free-form feedback"}, nil
	}
	return Classification{}, fmt.Errorf("%w: action %q", ErrUnclassified, in.Action)
}

const classifyToolName = "classify_feedback"

var classifyTool = model.ToolSpec{
	Name:        classifyToolName,
	Description: "Record the intent of the reviewer's response to the pending question.",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"intent": map[string]interface{}{
				"type": "string",
				"enum": []string{
					string(IntentApprove), string(IntentModify),
					string(IntentReject), string(IntentQuestion),
				},
			},
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The reviewer's question, when intent is question",
			},
			"reason": map[string]interface{}{"type": "string"},
		},
		"required": []string{"intent"},
	},
}

const classifySystemPrompt = `You classify a human reviewer's response to a paused workflow.
Call classify_feedback exactly once.
approve: the reviewer accepts the current result.
modify: the reviewer wants changes made before continuing.
reject: the reviewer wants the workflow stopped.
question: the reviewer asks something that must be answered first.`

// ModelClassifier asks a chat model for a structured classification via a
// tool call. When the model does not call the tool, Fallback (if set)
// decides instead.
type ModelClassifier struct {
	Model    model.ChatModel
	Fallback Classifier

	// OnUsage, when set, receives token usage of every model call so the
	// caller can charge it to a governor.
	OnUsage func(model.TokenUsage)
}

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, pending store.Interrupt, in ResumeInput) (Classification, error) {
	if c.Model == nil {
		return Classification{}, fmt.Errorf("%w: no model configured", ErrUnclassified)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Question asked: %s\n", pending.Question)
	if len(pending.Options) > 0 {
		fmt.Fprintf(&user, "Options offered: %s\n", strings.Join(pending.Options, ", "))
	}
	if in.Action != "" {
		fmt.Fprintf(&user, "Action: %s\n", in.Action)
	}
	fmt.Fprintf(&user, "Feedback: %s\n", in.Feedback)

	out, err := c.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: classifySystemPrompt},
		{Role: model.RoleUser, Content: user.String()},
	}, []model.ToolSpec{classifyTool})
	if err != nil {
		return Classification{}, fmt.Errorf("classify via model: %w", err)
	}
	if c.OnUsage != nil {
		c.OnUsage(out.Usage)
	}

	call, ok := out.FindToolCall(classifyToolName)
	if !ok {
		if c.Fallback != nil {
			return c.Fallback.Classify(ctx, pending, in)
		}
		return Classification{}, fmt.Errorf("%w: model returned no %s call", ErrUnclassified, classifyToolName)
	}

	var raw struct {
		Intent   string `mapstructure:"intent"`
		Question string `mapstructure:"question"`
		Reason   string `mapstructure:"reason"`
	}
	if err := mapstructure.Decode(call.Input, &raw); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrUnclassified, err)
	}
	intent := Intent(strings.ToLower(raw.Intent))
	if !intent.Valid() {
		return Classification{}, fmt.Errorf("%w: model intent %q", ErrUnclassified, raw.Intent)
	}
	cls := Classification{Intent: intent, Question: raw.Question, Reason: raw.Reason}
	if intent == IntentQuestion && cls.Question == "" {
		cls.Question = in.Feedback
	}
	return cls, nil
}
