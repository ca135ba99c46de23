// Package enrich drives the resumable wiki extraction stage: one slow,
// rate-limited LLM call per station, folded into a durable checkpoint so
// the run can be finished across multiple invocations.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/internal/resilience"
	"github.com/sgtransit/mrt-pipeline/pkg/anthropic"
)

// Extractor turns a station's source document into structured enrichment.
// Implementations are slow (seconds per call) and fallible.
type Extractor interface {
	Extract(ctx context.Context, station model.Station, html string) (*model.StationEnrichment, error)
}

// maxDocumentChars truncates wiki HTML before prompting to stay inside the
// model context window.
const maxDocumentChars = 15000

const extractSystemPrompt = `You are a data extraction specialist. Your task is to extract structured information about Singapore MRT and LRT stations from wiki pages.

For each exit extract: the exit code, which platforms/directions it leads to, accessibility features, nearby bus stops with their 5-digit codes, and nearby landmarks.

IMPORTANT RULES:
- If information is not found, use empty arrays
- Bus stop codes are 5-digit numbers
- Only include exits that actually exist at this station
- Accessibility should note ANY limitations
- Platform directions should specify both line and destination station code

Return ONLY valid JSON. No markdown, no explanation.`

const extractUserPrompt = `Extract data for station: %s

HTML content:
%s

Return this exact JSON structure:
{
  "exits": [
    {
      "exit_code": "A",
      "platforms": [{"platform_code": "A", "towards_code": "NS1", "line_code": "NS"}],
      "accessibility": ["wheelchair_accessible", "lift"],
      "bus_stops": [{"code": "70371", "services": ["28", "80"]}],
      "nearby_landmarks": ["MacPherson Community Club"]
    }
  ],
  "accessibility_notes": ["All exits are wheelchair accessible except Exit C"],
  "extraction_confidence": "high"
}`

// extractionPayload is the JSON shape the model is asked to return.
type extractionPayload struct {
	Exits              []model.EnrichedExit `json:"exits"`
	AccessibilityNotes []string             `json:"accessibility_notes"`
	Confidence         model.Confidence     `json:"extraction_confidence"`
}

// LLMOptions configures the LLM-backed extractor.
type LLMOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// LLMExtractor implements Extractor over the Anthropic API.
type LLMExtractor struct {
	client anthropic.Client
	opts   LLMOptions
}

// NewLLMExtractor creates an extractor with an already-constructed client.
func NewLLMExtractor(client anthropic.Client, opts LLMOptions) *LLMExtractor {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4000
	}
	return &LLMExtractor{client: client, opts: opts}
}

// Extract sends the document to the model and parses the structured reply.
// Transport failures and unparseable replies are transient; a structurally
// valid reply with zero exits is a success with low confidence.
func (e *LLMExtractor) Extract(ctx context.Context, station model.Station, html string) (*model.StationEnrichment, error) {
	if len(html) > maxDocumentChars {
		html = html[:maxDocumentChars]
	}

	temp := e.opts.Temperature
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    extractSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractUserPrompt, station.OfficialName, html)},
		},
		Temperature: &temp,
	})
	if err != nil {
		if resilience.IsPermanent(err) || resilience.IsTransient(err) {
			return nil, err
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "extract: api call"), 0)
	}

	resp.Usage.LogCost(e.opts.Model, station.StationID)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &payload); err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(err, "extract: parse model reply for %s", station.StationID), 0)
	}

	confidence := payload.Confidence
	if !confidence.Valid() {
		confidence = model.ConfidenceMedium
	}
	// An empty but well-formed extraction is a low-confidence success, not
	// a failure: the page simply had nothing to offer.
	if len(payload.Exits) == 0 {
		confidence = model.ConfidenceLow
	}

	return &model.StationEnrichment{
		StationID:          station.StationID,
		OfficialName:       station.OfficialName,
		Result:             model.ExtractionSuccess,
		Confidence:         confidence,
		Exits:              payload.Exits,
		AccessibilityNotes: payload.AccessibilityNotes,
		ExtractedAt:        time.Now().UTC(),
		SourceURL:          station.WikiURL,
	}, nil
}
