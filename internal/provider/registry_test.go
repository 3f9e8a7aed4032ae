package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/durmah/internal/provider"
)

type fakeLLM struct{ name string }

func (f fakeLLM) Info() provider.Info { return provider.Info{Name: f.name, Version: "1"} }

func (f fakeLLM) Complete(context.Context, provider.CompletionRequest, provider.RequestContext) (provider.CompletionStream, error) {
	return provider.NewSliceStream(provider.Chunk{Delta: f.name, Done: true}), nil
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := provider.NewRegistry()
	require.NoError(t, r.Register(provider.ModalityLLM, "openai", fakeLLM{name: "first"}))
	require.NoError(t, r.Register(provider.ModalityLLM, "openai", fakeLLM{name: "second"}))

	llm, ok := r.LLM("openai")
	require.True(t, ok)
	assert.Equal(t, "second", llm.Info().Name)
	assert.Len(t, r.List(provider.ModalityLLM), 1)
}

func TestRegistryMissingIsNotAnError(t *testing.T) {
	r := provider.NewRegistry()
	p, ok := r.Resolve(provider.ModalitySTT, "deepgram-stt")
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestRegistryRejectsWrongModality(t *testing.T) {
	r := provider.NewRegistry()
	err := r.Register(provider.ModalityTTS, "openai", fakeLLM{name: "x"})
	require.Error(t, err)
	_, ok := r.Resolve(provider.ModalityTTS, "openai")
	assert.False(t, ok)
}

func TestRegistryResolveFirstWalksFallbacks(t *testing.T) {
	r := provider.NewRegistry()
	require.NoError(t, r.Register(provider.ModalityLLM, "mistral", fakeLLM{name: "mistral"}))

	p, name, ok := r.ResolveFirst(provider.ModalityLLM, "openai", "mistral")
	require.True(t, ok)
	assert.Equal(t, "mistral", name)
	assert.Equal(t, "mistral", p.Info().Name)
}

func TestDrainConcatenatesUntilDone(t *testing.T) {
	stream := provider.NewSliceStream(
		provider.Chunk{Delta: "Consideration "},
		provider.Chunk{Delta: "is value."},
		provider.Chunk{Done: true},
		provider.Chunk{Delta: "ignored"},
	)
	text, err := provider.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "Consideration is value.", text)
}

func TestDrainWithoutDoneIsIncomplete(t *testing.T) {
	stream := provider.NewSliceStream(provider.Chunk{Delta: "half"})
	_, err := provider.Drain(stream)
	assert.True(t, errors.Is(err, provider.ErrIncompleteGeneration))
}

func TestAPIErrorTemporary(t *testing.T) {
	assert.True(t, (&provider.APIError{StatusCode: 503}).Temporary())
	assert.False(t, (&provider.APIError{StatusCode: 422}).Temporary())
}

func TestParseNames(t *testing.T) {
	assert.Equal(t, []string{"openai", "mistral"}, provider.ParseNames(" openai, ,mistral "))
	assert.Nil(t, provider.ParseNames(""))
}
