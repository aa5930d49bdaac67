package cvoptimise

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Analyser scores a CV against a job description.
type Analyser interface {
	Analyse(ctx context.Context, cvText, jobDescription string) (*AnalysisResult, Metadata, error)
}

const analysisPrompt = `You are an experienced UK careers adviser helping an apprenticeship applicant
tailor their CV to a specific vacancy.

Compare the CV with the job description and respond with JSON only, using this schema:
{
  "overall_score": integer 0-100, how well the CV matches the role,
  "improvements": [
    {
      "section": "CV section name, e.g. Personal Statement, Work Experience, Skills, Education",
      "score": integer 0-100 for this section,
      "impact": "high" | "medium" | "low",
      "context": "one sentence on why this section matters for the role",
      "suggestions": ["short actionable suggestion", "..."],
      "optimised_content": "a rewritten version of the section"
    }
  ]
}

Do not invent experience the applicant does not have.

### CV
%s

### JOB DESCRIPTION
%s
`

type GeminiAnalyser struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	now       func() time.Time
}

func NewGeminiAnalyser(ctx context.Context, apiKey, modelName string) (*GeminiAnalyser, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)
	return &GeminiAnalyser{
		client:    client,
		model:     model,
		modelName: modelName,
		now:       time.Now,
	}, nil
}

func (g *GeminiAnalyser) Close() error {
	return g.client.Close()
}

// Analyse makes a single call to the model, failures are not retried here.
func (g *GeminiAnalyser) Analyse(ctx context.Context, cvText, jobDescription string) (*AnalysisResult, Metadata, error) {
	meta := Metadata{ModelVersion: g.modelName}
	start := g.now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(fmt.Sprintf(analysisPrompt, cvText, jobDescription)))
	meta.ProcessingTime = g.now().Sub(start)
	if err != nil {
		return nil, meta, errors.Wrap(err, "gemini generate content")
	}
	if resp.UsageMetadata != nil {
		meta.TokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}
	text := responseText(resp)
	if text == "" {
		return nil, meta, errors.New("gemini returned an empty response")
	}
	result, err := ParseAnalysis(text)
	if err != nil {
		return nil, meta, err
	}
	return result, meta, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}

type rawImprovement struct {
	Section          string      `json:"section"`
	Score            json.Number `json:"score"`
	Impact           string      `json:"impact"`
	Context          string      `json:"context"`
	Suggestions      Suggestions `json:"suggestions"`
	OptimisedContent string      `json:"optimised_content"`
}

type rawAnalysis struct {
	OverallScore json.Number      `json:"overall_score"`
	Improvements []rawImprovement `json:"improvements"`
}

// ParseAnalysis decodes a model reply, tolerating markdown fences, string
// scores and unknown impact levels. Scores are clamped to 0..100.
func ParseAnalysis(text string) (*AnalysisResult, error) {
	text = stripFences(text)
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, errors.Wrap(err, "decode analysis")
	}
	if raw.OverallScore == "" {
		return nil, errors.New("analysis has no overall score")
	}
	result := &AnalysisResult{
		OverallScore: clampScore(raw.OverallScore),
		Improvements: []Improvement{},
	}
	for _, ri := range raw.Improvements {
		section := strings.TrimSpace(ri.Section)
		if section == "" {
			continue
		}
		suggestions := ri.Suggestions
		if suggestions == nil {
			suggestions = Suggestions{}
		}
		result.Improvements = append(result.Improvements, Improvement{
			Section:          section,
			Score:            clampScore(ri.Score),
			Impact:           NormaliseImpact(ri.Impact),
			Context:          strings.TrimSpace(ri.Context),
			Suggestions:      suggestions,
			OptimisedContent: strings.TrimSpace(ri.OptimisedContent),
		})
	}
	return result, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// language tag
	if i := strings.Index(text, "\n"); i >= 0 && !strings.ContainsAny(text[:i], "{[") {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func clampScore(n json.Number) int {
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
