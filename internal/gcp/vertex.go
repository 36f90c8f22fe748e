package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Structurer Model Prompts ---

const StructurerSystemPrompt = `You are a specialist process-documentation analyst. Your task is to read the raw text of an engineering procedure document and recover its structured content: the chapters (phases), the process steps within each phase, the RACI assignments, and the process-map flow. You must output your response as a single valid JSON object and nothing else.

The JSON object must have exactly these keys:
- "title": string, the document's title.
- "description": string, a one- or two-sentence summary.
- "phases": object mapping a short kebab-case phase id to {"name": string, "description": string (optional), "parent": string (optional, the id of the enclosing phase for nested sections)}.
- "processSteps": array of {"phaseId": string, "stepId": string, "activity": string, "inputs": array of strings, "outputs": array of strings, "timeline": string, "responsible": string, "comments": string}.
- "raciMatrix": array of {"phaseId": string, "stepId": string, "task": string, "responsible": string, "accountable": string, "consulted": string, "informed": string}.
- "processMap": array of {"phaseId": string, "stepId": string, "stepType": one of "start"|"process"|"decision"|"approval"|"milestone"|"end", "title": string, "description": string, "orderIndex": integer}.

Every "phaseId" must be a key of "phases". Each (phaseId, stepId) pair must be unique within its array. Within one phase, "orderIndex" values must be unique and increase along the flow, with a "start" node first and an "end" node last.`

const StructurerUserPrompt = `Extract the structured playbook content from the document text below. The text was recovered heuristically and may be noisy or partial; focus on the meaning and reconstruct the most plausible process structure. If a field cannot be determined from the text, use an empty string rather than inventing detail.

Document text:
`

const StructurerPhaseContextPrompt = `

Map every activity onto exactly this fixed set of phase ids (do not invent new phases):
`

// VertexClient holds the pre-configured generative model for the
// structuring agent.
type VertexClient struct {
	StructurerModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the structurer model.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	structurerModel := baseClient.GenerativeModel("gemini-1.5-pro")
	structurerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(StructurerSystemPrompt)},
	}
	structurerModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	structurerModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		StructurerModel: structurerModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
