package tool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func TestFunctionTool_Success(t *testing.T) {
	tl := NewFunctionTool("sum", "Sum two numbers", sumSchema(), func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	res, err := tl.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.5})
	require.NoError(t, err)
	assert.Equal(t, 5.5, res)
	assert.Equal(t, "sum", tl.Name())
	assert.Equal(t, "Sum two numbers", tl.Description())
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	tl := NewFunctionTool("sum", "", sumSchema(), func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := tl.Call(context.Background(), map[string]any{"a": 1.0})
	require.Error(t, err)
	assert.False(t, called)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeValidation, te.Code)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "b", ve.Field)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	boom := errors.New("boom")
	tl := NewFunctionTool("fail", "", map[string]any{"type": "object"}, func(context.Context, map[string]any) (any, error) {
		return nil, boom
	})

	_, err := tl.Call(context.Background(), map[string]any{})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeExecution, te.Code)
	assert.ErrorIs(t, err, boom)
}

func TestFunctionTool_ToolErrorPassthrough(t *testing.T) {
	custom := NewToolError("fail", "rate limited", "RATE_LIMIT")
	tl := NewFunctionTool("fail", "", map[string]any{"type": "object"}, func(context.Context, map[string]any) (any, error) {
		return nil, custom
	})

	_, err := tl.Call(context.Background(), map[string]any{})
	assert.Same(t, custom, err)
	assert.Equal(t, "tool error [RATE_LIMIT] in fail: rate limited", err.Error())
}

type fromStructArgs struct {
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	tl := NewFunctionToolFromStruct("greet", "", fromStructArgs{}, func(_ context.Context, args map[string]any) (any, error) {
		return "hi " + args["name"].(string), nil
	})

	res, err := tl.Call(context.Background(), map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "hi bob", res)

	_, err = tl.Call(context.Background(), map[string]any{"age": 3})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	echo := NewFunctionTool("echo", "", map[string]any{"type": "object"}, func(_ context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})
	r := NewRegistry(echo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Call(context.Background(), "echo", map[string]any{"v": i})
			assert.NoError(t, err)
			assert.Equal(t, i, res)
		}(i)
	}
	wg.Wait()

	_, err := r.Call(context.Background(), "missing", nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeNotFound, te.Code)

	r.Register(NewFunctionTool("alpha", "", nil, nil))
	assert.Equal(t, []string{"alpha", "echo"}, r.Names())
}
