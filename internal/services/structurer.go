package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/vertexai/genai"

	"github.com/mvanrijn/playbookflow/internal/gcp"
	"github.com/mvanrijn/playbookflow/internal/models"
)

// DocumentStructurer abstracts the AI structuring step so the scanner
// can be exercised with fakes. A (nil, nil) return is a soft failure:
// the caller falls back to the template generator.
type DocumentStructurer interface {
	Structure(ctx context.Context, text string, hints []models.PhaseHint) (*models.StructuredDocument, error)
}

// StructurerConfig bounds the single model call.
type StructurerConfig struct {
	// MaxPromptChars truncates the extracted text sent to the model.
	MaxPromptChars int
	// Timeout bounds the completion call; expiry is a soft failure.
	Timeout time.Duration
}

func (c *StructurerConfig) defaults() {
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 6000
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
}

// generativeModel is the slice of *genai.GenerativeModel the
// structurer uses.
type generativeModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Structurer sends extracted text to the structuring model and parses
// the response into a candidate StructuredDocument. It makes exactly
// one attempt per document: the pipeline is an idempotent,
// re-triggerable batch job, so retries belong at the batch level.
type Structurer struct {
	model  generativeModel
	config StructurerConfig
}

// NewStructurer wires the pre-configured Vertex model.
func NewStructurer(client *gcp.VertexClient, config StructurerConfig) *Structurer {
	config.defaults()
	return &Structurer{model: client.StructurerModel, config: config}
}

// Structure runs one completion attempt. Network errors, timeouts,
// refusals, malformed JSON and schema-incomplete responses all return
// (nil, nil); only cancellation of the parent context is surfaced as
// an error.
func (s *Structurer) Structure(ctx context.Context, text string, hints []models.PhaseHint) (*models.StructuredDocument, error) {
	prompt := buildStructurerPrompt(text, hints, s.config.MaxPromptChars)

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.model.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Structuring model call failed; falling back.", "error", err)
		return nil, nil
	}

	doc := parseStructuredResponse(extractResponseText(resp))
	if doc == nil {
		slog.Warn("Structuring model returned no usable document; falling back.")
	}
	return doc, nil
}

// buildStructurerPrompt assembles the user message: instruction
// header, bounded text prefix, and the fixed phase taxonomy when the
// caller already knows the expected chapter structure.
func buildStructurerPrompt(text string, hints []models.PhaseHint, maxChars int) string {
	if len(text) > maxChars {
		// Back up to a rune boundary so truncation never emits a
		// partial UTF-8 sequence.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	var sb strings.Builder
	sb.WriteString(gcp.StructurerUserPrompt)
	sb.WriteString(text)
	if len(hints) > 0 {
		sb.WriteString(gcp.StructurerPhaseContextPrompt)
		for _, h := range hints {
			fmt.Fprintf(&sb, "- %s (%s)\n", h.ID, h.Name)
		}
	}
	return sb.String()
}

// extractResponseText robustly gets the raw text content from the
// model response, trimming markdown fences just in case.
func extractResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	content := strings.TrimSpace(sb.String())
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// refusalPhrases flag model responses that decline the task instead of
// producing JSON.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// parseStructuredResponse carves the first '{' to the last '}' out of
// the model text, decodes it, and validates the structural invariants.
// Any parse or validation problem yields nil.
func parseStructuredResponse(content string) *models.StructuredDocument {
	if content == "" {
		return nil
	}

	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return nil
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil
	}

	var doc models.StructuredDocument
	if err := json.Unmarshal([]byte(content[start:end+1]), &doc); err != nil {
		return nil
	}
	if doc.Title == "" || len(doc.Phases) == 0 {
		return nil
	}
	if err := doc.Validate(); err != nil {
		slog.Warn("Structuring model output failed validation.", "error", err)
		return nil
	}
	return &doc
}
