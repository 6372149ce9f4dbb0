package agents

import (
	"context"
	"fmt"

	"github.com/miradorstack/agentic-reviewer/internal/llm"
	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// Outcome is what an agent concluded about a sample.
type Outcome struct {
	Verdict        models.Verdict
	Reasoning      string
	SuggestedLabel *string
	Explanation    string
	TokensUsed     int
	Model          string
}

// Agent reviews a single sample.
type Agent interface {
	Review(ctx context.Context, sample models.Sample) (Outcome, error)
}

// Settings are the sampling parameters passed to every completion.
type Settings struct {
	Temperature float64
	MaxTokens   int
}

type caller struct {
	llm      llm.Completer
	catalog  *LabelCatalog
	settings Settings
}

func (c caller) call(ctx context.Context, system *systemTemplate, user sampleData, out any) (llm.Completion, error) {
	sys, err := system.render(c.catalog)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("render %s prompt: %w", system.name, err)
	}
	prompt, err := render(sampleTmpl, user)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("render sample prompt: %w", err)
	}
	completion, err := c.llm.Complete(ctx, llm.Request{
		System:      sys,
		Prompt:      prompt,
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return llm.Completion{}, err
	}
	if err := decodeJSON(completion.Text, out); err != nil {
		return completion, err
	}
	return completion, nil
}

// UnifiedAgent asks one prompt for the verdict, label and explanation.
type UnifiedAgent struct {
	caller
}

// NewUnifiedAgent constructs a UnifiedAgent.
func NewUnifiedAgent(completer llm.Completer, catalog *LabelCatalog, settings Settings) *UnifiedAgent {
	return &UnifiedAgent{caller{llm: completer, catalog: catalog, settings: settings}}
}

type unifiedReply struct {
	Verdict        string  `json:"verdict"`
	Reasoning      string  `json:"reasoning"`
	SuggestedLabel *string `json:"suggested_label"`
	Explanation    string  `json:"explanation"`
}

func (a *UnifiedAgent) Review(ctx context.Context, sample models.Sample) (Outcome, error) {
	var reply unifiedReply
	completion, err := a.call(ctx, unifiedSystem, sampleData{Sample: sample}, &reply)
	if err != nil {
		return Outcome{}, err
	}
	verdict, err := parseVerdict(reply.Verdict)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireField("reasoning", reply.Reasoning); err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Verdict:     verdict,
		Reasoning:   reply.Reasoning,
		Explanation: reply.Explanation,
		TokensUsed:  completion.TokensUsed,
		Model:       completion.Model,
	}
	if out.Explanation == "" {
		out.Explanation = reply.Reasoning
	}
	if verdict != models.VerdictAgree && reply.SuggestedLabel != nil {
		out.SuggestedLabel = a.catalog.Normalize(*reply.SuggestedLabel)
	}
	return out, nil
}

// SpecialistAgent runs an evaluator, then a proposer and a reasoner. It stops
// after the evaluator when the predicted label is accepted. Any failing step
// fails the whole review.
type SpecialistAgent struct {
	caller
}

// NewSpecialistAgent constructs a SpecialistAgent.
func NewSpecialistAgent(completer llm.Completer, catalog *LabelCatalog, settings Settings) *SpecialistAgent {
	return &SpecialistAgent{caller{llm: completer, catalog: catalog, settings: settings}}
}

type evaluatorReply struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

type proposerReply struct {
	SuggestedLabel *string `json:"suggested_label"`
	Reasoning      string  `json:"reasoning"`
}

type reasonerReply struct {
	Explanation string `json:"explanation"`
}

func (a *SpecialistAgent) Review(ctx context.Context, sample models.Sample) (Outcome, error) {
	var eval evaluatorReply
	completion, err := a.call(ctx, evaluatorSystem, sampleData{Sample: sample}, &eval)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluator: %w", err)
	}
	verdict, err := parseVerdict(eval.Verdict)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluator: %w", err)
	}
	if err := requireField("reasoning", eval.Reasoning); err != nil {
		return Outcome{}, fmt.Errorf("evaluator: %w", err)
	}

	out := Outcome{
		Verdict:    verdict,
		Reasoning:  eval.Reasoning,
		TokensUsed: completion.TokensUsed,
		Model:      completion.Model,
	}
	if verdict == models.VerdictAgree {
		out.Explanation = eval.Reasoning
		return out, nil
	}

	var proposal proposerReply
	completion, err = a.call(ctx, proposerSystem, sampleData{Sample: sample, Verdict: verdict, Reasoning: eval.Reasoning}, &proposal)
	if err != nil {
		return Outcome{}, fmt.Errorf("proposer: %w", err)
	}
	out.TokensUsed += completion.TokensUsed
	if proposal.SuggestedLabel != nil {
		out.SuggestedLabel = a.catalog.Normalize(*proposal.SuggestedLabel)
	}

	suggested := ""
	if out.SuggestedLabel != nil {
		suggested = *out.SuggestedLabel
	}
	var reason reasonerReply
	completion, err = a.call(ctx, reasonerSystem, sampleData{Sample: sample, Verdict: verdict, Reasoning: eval.Reasoning, Suggested: suggested}, &reason)
	if err != nil {
		return Outcome{}, fmt.Errorf("reasoner: %w", err)
	}
	if err := requireField("explanation", reason.Explanation); err != nil {
		return Outcome{}, fmt.Errorf("reasoner: %w", err)
	}
	out.TokensUsed += completion.TokensUsed
	out.Explanation = reason.Explanation
	return out, nil
}
