package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/providers"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

func TestResolveByCapability_PicksMatchingModel(t *testing.T) {
	models := map[string]core.ModelConfig{
		"fast":   {Alias: "fast", Name: "fast-model", CapabilityTags: []string{"fast"}},
		"vision": {Alias: "vision", Name: "vision-model", CapabilityTags: []string{"vision", "long-context"}},
	}
	reg := NewRegistry(models, nil, nil, 0)

	resolved, err := reg.ResolveByCapability([]string{"vision"}, "fast")

	require.NoError(t, err)
	assert.Equal(t, "vision", resolved.Alias)
}

func TestResolveByCapability_FallsBackWhenNoMatch(t *testing.T) {
	models := map[string]core.ModelConfig{
		"fast": {Alias: "fast", Name: "fast-model", CapabilityTags: []string{"fast"}},
	}
	reg := NewRegistry(models, nil, nil, 0)

	resolved, err := reg.ResolveByCapability([]string{"vision"}, "fast")

	require.NoError(t, err)
	assert.Equal(t, "fast", resolved.Alias)
}

func TestResolveByCapability_ErrorsWhenFallbackAlsoMissing(t *testing.T) {
	reg := NewRegistry(map[string]core.ModelConfig{}, nil, nil, 0)

	_, err := reg.ResolveByCapability([]string{"vision"}, "fast")

	assert.Error(t, err)
}

func TestRegistry_SpawnSubagent_SwitchesModelByCapability(t *testing.T) {
	models := map[string]core.ModelConfig{
		"default": {Alias: "default", Name: "default-model"},
		"vision":  {Alias: "vision", Name: "vision-model", CapabilityTags: []string{"vision"}},
	}

	backend := &scriptedBackend{responses: []core.Message{{Content: "all done"}}}

	factory := func(profile Profile) (*Loop, error) {
		loop := newTestLoop(t, backend, 0)
		loop.Model = models["default"]
		return loop, nil
	}
	backendFactory := func(m core.ModelConfig) (providers.Backend, error) {
		return backend, nil
	}

	reg := NewRegistry(models, factory, backendFactory, 5)

	result, err := reg.SpawnSubagent(context.Background(), "subagent", "look at this image", []string{"vision"})

	require.NoError(t, err)
	assert.Equal(t, "vision", result.ModelAlias)
	assert.True(t, result.Completed)
	assert.Equal(t, "all done", result.Response)
}

func TestRegistry_SpawnSubagent_AccumulatesResponseAcrossToolCalls(t *testing.T) {
	models := map[string]core.ModelConfig{"subagent": {Alias: "subagent", Name: "subagent-model"}}
	backend := &scriptedBackend{responses: []core.Message{
		{Content: "thinking about it", ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "bash", Arguments: `{"command":"true"}`}}}},
		{Content: "final summary"},
	}}

	factory := func(profile Profile) (*Loop, error) {
		loop := newTestLoop(t, backend, 0)
		loop.Model = models["subagent"]
		return loop, nil
	}

	reg := NewRegistry(models, factory, nil, 5)

	result, err := reg.SpawnSubagent(context.Background(), "subagent", "do something", nil)

	require.NoError(t, err)
	assert.Equal(t, "final summary", result.Response, "accumulated response resets on a new tool call and keeps only the post-tool summary")
}

var _ tools.AgentManager = (*Registry)(nil)
