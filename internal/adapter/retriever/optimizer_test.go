package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// scriptedLLM answers GenerateWithSystem from a fixed mapping on the user
// prompt's content, recording every call.
type scriptedLLM struct {
	replies map[string]string
	err     error
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return s.GenerateWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) GenerateWithSystem(_ context.Context, _, userPrompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	for key, reply := range s.replies {
		if strings.Contains(userPrompt, key) {
			return reply, nil
		}
	}
	return "", nil
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []port.Message) (string, error) {
	return s.GenerateWithSystem(ctx, "", messages[len(messages)-1].Content)
}

func (s *scriptedLLM) ChatStream(context.Context, []port.Message) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) ModelName() string { return "scripted" }

func TestReviseResolvesPronounAgainstHistory(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{"它多大了": "Rex多大了？"}}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableRevise: true})
	require.NoError(t, err)

	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "我叫Tom, 我的狗叫Rex"},
		{Role: domain.RoleAssistant, Content: "你好Tom！Rex是个好名字。"},
	}
	revised, err := opt.Revise(context.Background(), "它多大了", history)
	require.NoError(t, err)
	assert.Equal(t, "Rex多大了？", revised)
	assert.NotContains(t, revised, "Tom")
}

func TestReviseEmptyHistoryIsNoOp(t *testing.T) {
	llm := &scriptedLLM{}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableRevise: true})
	require.NoError(t, err)

	revised, err := opt.Revise(context.Background(), "what is the token budget", nil)
	require.NoError(t, err)
	assert.Equal(t, "what is the token budget", revised)
	assert.Zero(t, llm.calls, "no antecedent means no model call")
}

func TestOptimizeDegradesToPassThrough(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model is down")}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableRewrite: true, EnableExpand: true})
	require.NoError(t, err)

	result := opt.Optimize(context.Background(), "original question", nil)
	assert.True(t, result.Degraded)
	assert.Equal(t, "original question", result.Rewritten)
	assert.Equal(t, []string{"original question"}, result.Subqueries)
}

func TestDecomposeParsesLinesAndCaps(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{
		"compare": "what is vector search\nwhat is keyword search\nhow are scores fused\na fourth line",
	}}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableExpand: true, MaxSubqueries: 3})
	require.NoError(t, err)

	subs, err := opt.Decompose(context.Background(), "compare vector and keyword search")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "what is vector search", subs[0])
}

func TestRewriteEmptyResponseKeepsQuery(t *testing.T) {
	llm := &scriptedLLM{}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableRewrite: true})
	require.NoError(t, err)

	out, err := opt.Rewrite(context.Background(), "already clear")
	require.NoError(t, err)
	assert.Equal(t, "already clear", out)
}

func TestOptimizeChainsStages(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{
		"它多大了":    "Rex多大了",
		"Rex多大了": "Rex的年龄",
	}}
	opt, err := NewQueryOptimizer(llm, OptimizerOptions{EnableRevise: true, EnableRewrite: true})
	require.NoError(t, err)

	history := []domain.Turn{{Role: domain.RoleUser, Content: "我的狗叫Rex"}}
	result := opt.Optimize(context.Background(), "它多大了", history)
	assert.False(t, result.Degraded)
	assert.Equal(t, "Rex多大了", result.Revised)
	assert.Equal(t, "Rex的年龄", result.Rewritten)
	assert.Equal(t, []string{"Rex的年龄"}, result.Subqueries)
}
