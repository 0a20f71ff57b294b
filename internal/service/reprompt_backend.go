package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"focusroom-be/pkg/intervention"
	"focusroom-be/pkg/llm"
)

type repromptStrategy struct {
	Name        string
	Intro       string
	Instruction string
}

var (
	strategySimplify = repromptStrategy{
		Name:  "simplify_with_analogy",
		Intro: "Seems like you didn't get that explanation. Here's another way to think about it...",
		Instruction: `The user seems confused. Re-explain the concept using:
1. A simple real-world analogy
2. Shorter sentences
3. Step-by-step breakdown
4. Visual language (describe what they should imagine)`,
	}
	strategyReengage = repromptStrategy{
		Name:  "re_engage",
		Intro: "Hey, I noticed you might have drifted off! Let me re-engage you with this...",
		Instruction: `The user got distracted. Re-engage them by:
1. Starting with an interesting fact or question
2. Making it more interactive
3. Keeping it very brief (2-3 sentences max)
4. Ending with a question to check understanding`,
	}
	strategyInteresting = repromptStrategy{
		Name:  "make_interesting",
		Intro: "Let me make this more interesting for you...",
		Instruction: `The user seems bored. Make the content more engaging by:
1. Adding a surprising fact or counterintuitive example
2. Connecting to real-world applications they care about
3. Using more dynamic language
4. Making it feel relevant to their life`,
	}
)

func strategyFor(trigger intervention.SignalKind) repromptStrategy {
	switch trigger {
	case intervention.SignalDistraction:
		return strategyReengage
	case intervention.SignalFatigue:
		return strategyInteresting
	default:
		return strategySimplify
	}
}

// RepromptResult is stored as the job's ResultRef.
type RepromptResult struct {
	Intro          string `json:"intro"`
	Strategy       string `json:"strategy"`
	NewExplanation string `json:"new_explanation"`
}

// RepromptBackend re-explains the last answer through the configured LLM.
// It completes inside Start.
type RepromptBackend struct {
	provider llm.LLMProvider
}

func NewRepromptBackend(provider llm.LLMProvider) *RepromptBackend {
	return &RepromptBackend{provider: provider}
}

func buildRepromptPrompt(s repromptStrategy, topic, original string) string {
	if topic == "" {
		topic = "the concept above"
	}
	return fmt.Sprintf(`%s

Original explanation that didn't land:
"""
%s
"""

Topic: %s

Provide a new, alternative explanation. Start directly with the content, no preamble.
Keep it under 150 words.`, s.Instruction, original, topic)
}

func (b *RepromptBackend) Start(ctx context.Context, req intervention.GenerationRequest) (intervention.Acceptance, error) {
	s := strategyFor(req.Trigger)

	text, err := b.provider.Generate(ctx, buildRepromptPrompt(s, req.Topic, req.ReferenceText),
		llm.WithTemperature(0.7),
		llm.WithMaxTokens(400),
	)
	if err != nil {
		return intervention.Acceptance{}, fmt.Errorf("reprompt generation: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return intervention.Acceptance{}, fmt.Errorf("reprompt generation: empty completion")
	}

	ref, err := json.Marshal(RepromptResult{Intro: s.Intro, Strategy: s.Name, NewExplanation: text})
	if err != nil {
		return intervention.Acceptance{}, err
	}
	return intervention.Acceptance{ExternalID: req.JobID, Done: true, ResultRef: string(ref)}, nil
}

// Status is never needed for a synchronous backend; report the job ready.
func (b *RepromptBackend) Status(_ context.Context, externalID string) (intervention.ExternalStatus, error) {
	return intervention.ExternalStatus{Status: intervention.JobReady, ResultRef: externalID}, nil
}
