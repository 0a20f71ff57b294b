package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"focusroom-be/pkg/intervention"
	"focusroom-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return f.Generate(ctx, history[len(history)-1].Content, options...)
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ ...llm.Option) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestRepromptBackendStrategies(t *testing.T) {
	cases := []struct {
		trigger  intervention.SignalKind
		strategy string
	}{
		{intervention.SignalConfusion, "simplify_with_analogy"},
		{intervention.SignalExplicitRequest, "simplify_with_analogy"},
		{intervention.SignalDistraction, "re_engage"},
		{intervention.SignalFatigue, "make_interesting"},
	}

	for _, tc := range cases {
		t.Run(string(tc.trigger), func(t *testing.T) {
			fake := &fakeLLM{reply: "  Think of a cell like a city.  "}
			b := NewRepromptBackend(fake)

			acc, err := b.Start(context.Background(), intervention.GenerationRequest{
				JobID:         "job-1",
				Trigger:       tc.trigger,
				Topic:         "cells",
				ReferenceText: "The mitochondria is the powerhouse.",
			})
			require.NoError(t, err)
			assert.True(t, acc.Done)
			assert.Equal(t, "job-1", acc.ExternalID)

			var res RepromptResult
			require.NoError(t, json.Unmarshal([]byte(acc.ResultRef), &res))
			assert.Equal(t, tc.strategy, res.Strategy)
			assert.Equal(t, "Think of a cell like a city.", res.NewExplanation)
			assert.Contains(t, fake.prompt, "The mitochondria is the powerhouse.")
			assert.Contains(t, fake.prompt, "Topic: cells")
			assert.Contains(t, fake.prompt, "under 150 words")
		})
	}
}

func TestRepromptBackendErrors(t *testing.T) {
	_, err := NewRepromptBackend(&fakeLLM{err: errors.New("ollama down")}).
		Start(context.Background(), intervention.GenerationRequest{})
	assert.ErrorContains(t, err, "ollama down")

	_, err = NewRepromptBackend(&fakeLLM{reply: "   "}).
		Start(context.Background(), intervention.GenerationRequest{})
	assert.ErrorContains(t, err, "empty completion")
}

func TestRepromptPromptDefaultsTopic(t *testing.T) {
	p := buildRepromptPrompt(strategySimplify, "", "x")
	assert.Contains(t, p, "Topic: the concept above")
}
