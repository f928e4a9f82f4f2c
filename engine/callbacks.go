package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/logging"
)

// CallbackType identifies the lifecycle point a callback is attached to.
type CallbackType string

const (
	// CallbackBeforeStage runs before a pipeline stage starts.
	CallbackBeforeStage CallbackType = "before_stage"

	// CallbackAfterStage runs once a stage's update has been merged and
	// checkpointed.
	CallbackAfterStage CallbackType = "after_stage"

	// CallbackOnAction runs after a platform action was executed.
	CallbackOnAction CallbackType = "on_action"

	// CallbackOnError runs when a stage recorded an error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. State is a snapshot;
// modifying it has no effect on the invocation.
type CallbackContext struct {
	// State is a copy of the invocation state at the callback point.
	State *core.State

	// Stage is the stage that is about to run or has just run.
	Stage core.Stage

	// CallbackType indicates which lifecycle point fired.
	CallbackType CallbackType

	// Error holds the stage error for CallbackOnError.
	Error string

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback is a lifecycle hook.
//
// Callbacks run synchronously on the invocation goroutine while the
// conversation is locked, so they should be fast. The pipeline cannot be
// aborted from a callback: returned errors are logged and the remaining
// callbacks of the same type are skipped.
type Callback interface {
	// Type returns the lifecycle point this callback handles.
	Type() CallbackType

	// Execute performs the callback logic.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a plain function to Callback.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackOnAction,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("acted in %d", cc.State.Event.ConversationID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type. Callbacks of one
// type run in registration order. Registration and execution are safe for
// concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback under its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Len returns the number of callbacks registered for callbackType.
func (cm *CallbackManager) Len(callbackType CallbackType) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.callbacks[callbackType])
}

// ExecuteCallbacks runs the callbacks registered for callbackType and stops
// at the first error, which is returned.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one debug line per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	args := []any{"callback", string(c.callbackType), "stage", callbackCtx.Stage.String()}
	if st := callbackCtx.State; st != nil {
		args = append(args,
			"conversation_id", st.Event.ConversationID,
			"invocation_id", st.InvocationID,
		)
	}
	if callbackCtx.Error != "" {
		args = append(args, "error", callbackCtx.Error)
	}
	c.logger.Debug("engine.callback", args...)
	return nil
}
