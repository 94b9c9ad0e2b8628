package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/pkg/logger"
)

const classifyPrompt = `You classify user queries for a question-answering system.
Respond with a single JSON object and nothing else:
{
  "intent": "factual|procedural|troubleshooting|comparison|definition|conceptual|navigational|transactional|unknown",
  "complexity": "simple|moderate|complex|very_complex",
  "entities": [{"text": "...", "type": "...", "confidence": 0.0}],
  "routing": "standard_retrieval|tool_invocation|multi_step|direct_escalation|cached_response",
  "requirements": {"min_documents": 0, "similarity_cutoff": 0.0, "require_multi_source": false}
}
Pick "tool_invocation" for calculations, lookups, or actions a tool could do directly.
Pick "direct_escalation" only when the query explicitly demands a human.`

var errEmptyClassification = errors.New("classification output carried no usable fields")

// Service runs query classification through a language model.
type Service struct {
	client  llm.Client
	timeout time.Duration
}

func NewService(client llm.Client, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{client: client, timeout: timeout}
}

// Analyze classifies query. It never returns an error: any model or parse
// failure degrades to the deterministic fallback analysis.
func (s *Service) Analyze(ctx context.Context, query string, history []llm.Message) *Analysis {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	resp, err := s.client.GenerateContent(ctx, &llm.Request{
		SystemPrompt: classifyPrompt,
		Messages:     messages,
		Options: llm.CallOptions{
			Temperature: 0.0,
			UseJSONMode: true,
		},
	})
	if err != nil {
		log.Warn("query classification failed, using fallback", "error", err)
		return FallbackAnalysis()
	}

	analysis, err := parseAnalysis(resp.Content)
	if err != nil {
		log.Warn("query classification unparseable, using fallback", "error", err)
		return FallbackAnalysis()
	}
	return analysis
}

// parseAnalysis decodes the model output, salvaging the JSON object from
// surrounding prose or code fences when strict decoding fails.
func parseAnalysis(content string) (*Analysis, error) {
	raw := extractJSONObject(content)

	var wire struct {
		Intent       string              `json:"intent"`
		Complexity   string              `json:"complexity"`
		Entities     []Entity            `json:"entities"`
		Routing      string              `json:"routing"`
		Requirements ContextRequirements `json:"requirements"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// Field-level salvage: the object may carry trailing junk that
		// breaks strict decoding but still holds usable fields.
		parsed := gjson.Parse(raw)
		if !parsed.Exists() || parsed.Type != gjson.JSON {
			return nil, err
		}
		wire.Intent = parsed.Get("intent").String()
		wire.Complexity = parsed.Get("complexity").String()
		wire.Routing = parsed.Get("routing").String()
		wire.Requirements.MinDocuments = int(parsed.Get("requirements.min_documents").Int())
		wire.Requirements.SimilarityCutoff = parsed.Get("requirements.similarity_cutoff").Float()
		wire.Requirements.RequireMultiSource = parsed.Get("requirements.require_multi_source").Bool()
		for _, item := range parsed.Get("entities").Array() {
			wire.Entities = append(wire.Entities, Entity{
				Text:       item.Get("text").String(),
				Type:       item.Get("type").String(),
				Confidence: item.Get("confidence").Float(),
			})
		}
	}
	if wire.Routing == "" && wire.Intent == "" {
		return nil, errEmptyClassification
	}

	analysis := &Analysis{
		Intent:       normalizeIntent(wire.Intent),
		Complexity:   normalizeComplexity(wire.Complexity),
		Routing:      normalizeRouting(wire.Routing),
		Requirements: wire.Requirements,
		Entities:     make([]Entity, 0, len(wire.Entities)),
	}
	for _, entity := range wire.Entities {
		if entity.Text == "" {
			continue
		}
		entity.Confidence = clamp01(entity.Confidence)
		analysis.Entities = append(analysis.Entities, entity)
	}
	analysis.Requirements.SimilarityCutoff = clamp01(analysis.Requirements.SimilarityCutoff)
	return analysis, nil
}

// extractJSONObject strips code fences and surrounding prose, returning the
// outermost {...} span when one exists.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
