package interrupt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DefaultPayloadType is used when a Payload does not name its type.
const DefaultPayloadType = "human_review"

// Payload is what a step hands over when it pauses for human review.
type Payload struct {
	Type      string          `json:"type"`
	Question  string          `json:"question"`
	Options   []string        `json:"options,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ResumeInput is the human response that resumes an interrupted thread.
type ResumeInput struct {
	Action   string `json:"action" mapstructure:"action"`
	Feedback string `json:"feedback,omitempty" mapstructure:"feedback"`
}

// Empty reports whether neither an action nor feedback was supplied.
func (in ResumeInput) Empty() bool {
	return strings.TrimSpace(in.Action) == "" && strings.TrimSpace(in.Feedback) == ""
}

// DecodeResumeInput converts a loosely typed map (decoded JSON, form values,
// a message bus payload) into a ResumeInput. Unknown keys are rejected.
func DecodeResumeInput(raw map[string]any) (ResumeInput, error) {
	var in ResumeInput
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &in,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ResumeInput{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return ResumeInput{}, fmt.Errorf("%w: %v", ErrInvalidResumeInput, err)
	}
	if in.Empty() {
		return ResumeInput{}, fmt.Errorf("%w: action or feedback is required", ErrInvalidResumeInput)
	}
	return in, nil
}
