package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAgentExecutor(t *testing.T) {
	exec, err := NewAgentExecutor(&Config{Provider: "anthropic", APIKey: "key", Model: "claude", Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.NotNil(t, exec)

	_, err = NewAgentExecutor(&Config{Provider: "openai", APIKey: "key"})
	assert.EqualError(t, err, "unsupported LLM provider: openai")
}
