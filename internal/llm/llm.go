// Package llm is the client side of the classification/generation service.
// Callers describe one structured request; the client answers with the raw
// text and every attempt is handed to an optional audit Recorder.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Audit unit names, one per call site.
const (
	UnitSpeakerLabels = "speaker_labels"
	UnitSignal        = "customer_signal"
	UnitTechnique     = "technique_eval"
	UnitEnrichment    = "missed_enrichment"
	UnitImpact        = "impact_values"
)

// ErrNoJSONObject is returned when a response carries no decodable object.
var ErrNoJSONObject = errors.New("no json object in response")

// Request is one call to the generation service.
type Request struct {
	Unit       string
	Index      int
	System     string
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
}

// Generator abstracts the generation service to keep calling code testable.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Event is one audited attempt.
type Event struct {
	JobID        string
	Unit         string
	Index        int
	Attempt      int
	Model        string
	RequestJSON  string
	ResponseText string
	HTTPStatus   int
	ParseOK      bool
	ErrorMessage string
	Duration     time.Duration
}

// Recorder persists audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	InsertLLMEvent(ctx context.Context, event Event) error
}

type jobIDKey struct{}

// WithJobID tags ctx so audit events can be tied to a job.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFrom returns the job tag of ctx, or "".
func JobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// ExtractJSONObject returns the first JSON object embedded in text. Code
// fences and surrounding prose are tolerated.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err == nil {
		return raw, nil
	}

	end := strings.LastIndexByte(text, '}')
	if end > start {
		candidate := strings.TrimSpace(text[start : end+1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("%w: %.80q", ErrNoJSONObject, text)
}

// GenerateJSON calls g and decodes the embedded JSON object into out.
func GenerateJSON(ctx context.Context, g Generator, req Request, out any) error {
	if g == nil {
		return errors.New("generator is not configured")
	}
	text, err := g.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", req.Unit, err)
	}
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return fmt.Errorf("extract %s: %w", req.Unit, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Unit, err)
	}
	return nil
}

// MustParseSchema validates a JSON schema literal at package init.
func MustParseSchema(rawSchema string) json.RawMessage {
	var schema map[string]any
	if err := json.Unmarshal([]byte(rawSchema), &schema); err != nil {
		panic(err)
	}
	normalized, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return normalized
}
