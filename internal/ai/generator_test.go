package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// fakeCompleter 按调用次序返回预置回复
type fakeCompleter struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, req *CompletionRequest) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	index := f.calls
	f.calls++
	if index >= len(f.responses) {
		index = len(f.responses) - 1
	}
	return f.responses[index], nil
}

func generatorSnapshot() *service.SchemaSnapshot {
	return &service.SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []service.Table{
			{Name: "orders", EstimatedRows: 1000, Columns: []service.Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "amount", DeclaredType: "numeric(10,2)"},
			}},
		},
	}
}

func newTestGenerator(completer Completer) *SQLGenerator {
	return NewSQLGenerator(completer, NewPromptBuilder(zap.NewNop()), zap.NewNop())
}

func generationRequest() *GenerationRequest {
	return &GenerationRequest{
		Prompt:        "统计订单总金额",
		ConnectionID:  1,
		Provider:      ProviderOpenAI,
		Model:         "gpt-4o-mini",
		IncludeSchema: true,
	}
}

func TestGenerate_CleanSQL(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"SELECT SUM(amount) FROM orders"}}
	generator := newTestGenerator(completer)

	candidate, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(amount) FROM orders", candidate.SQL)
	assert.False(t, candidate.Retried)
	assert.Equal(t, 1, completer.calls)
}

func TestGenerate_FencedSQL(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"```sql\nSELECT SUM(amount) FROM orders;\n```",
	}}
	generator := newTestGenerator(completer)

	candidate, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(amount) FROM orders", candidate.SQL)
}

func TestGenerate_ProseWrappedSQL(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"好的，这条查询可以统计总金额：SELECT SUM(amount) FROM orders",
	}}
	generator := newTestGenerator(completer)

	candidate, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(amount) FROM orders", candidate.SQL)
	assert.False(t, candidate.Retried)
}

func TestGenerate_RetrySucceeds(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"抱歉，我无法直接给出结果。",
		"SELECT SUM(amount) FROM orders",
	}}
	generator := newTestGenerator(completer)

	candidate, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(amount) FROM orders", candidate.SQL)
	assert.True(t, candidate.Retried)
	assert.Equal(t, 2, completer.calls)
	// 重试的提示词追加了纠正指令
	require.Len(t, completer.prompts, 2)
	assert.Contains(t, completer.prompts[1], "无法解析为单条SQL")
}

func TestGenerate_MultiStatementRejected(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"SELECT 1; SELECT 2",
	}}
	generator := newTestGenerator(completer)

	_, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.Error(t, err)

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, extractionErr.Reason, "expected exactly one")
	// 重试了一次仍失败
	assert.Equal(t, 2, completer.calls)
}

func TestGenerate_EmptyAfterRetry(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"", ""}}
	generator := newTestGenerator(completer)

	_, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.Error(t, err)

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, 2, completer.calls)
}

func TestGenerate_CompleterFailure(t *testing.T) {
	cause := errors.New("provider unavailable")
	completer := &fakeCompleter{err: cause}
	generator := newTestGenerator(completer)

	_, err := generator.Generate(context.Background(), generationRequest(), repository.DialectPostgres, generatorSnapshot())
	require.Error(t, err)

	var generationErr *GenerationError
	require.ErrorAs(t, err, &generationErr)
	assert.Equal(t, "openai", generationErr.Provider)
	assert.ErrorIs(t, err, cause)
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
		wantErr  bool
	}{
		{"纯SQL", "SELECT 1", "SELECT 1", false},
		{"无语言标注的代码块", "```\nSELECT 1\n```", "SELECT 1", false},
		{"大写SQL标注", "```SQL\nSELECT 1\n```", "SELECT 1", false},
		{"WITH开头", "WITH t AS (SELECT 1) SELECT * FROM t", "WITH t AS (SELECT 1) SELECT * FROM t", false},
		{"末尾分号被剥离", "SELECT 1;", "SELECT 1", false},
		{"无SELECT内容", "这是一段解释文字", "", true},
		{"空回复", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate, extractErr := extractSQL(tt.response)
			if tt.wantErr {
				assert.NotNil(t, extractErr)
				return
			}
			require.Nil(t, extractErr)
			assert.Equal(t, tt.expected, candidate.SQL)
		})
	}
}
