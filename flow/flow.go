// Package flow assembles provider requests for the decide stage.
//
// A Flow is an ordered list of request processors, each contributing one
// concern (instructions, context fragments, the current event, generation
// limits), followed by response processors that normalize raw provider text
// before it is parsed. The split keeps prompt assembly modular and testable.
package flow

import (
	"fmt"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/model"
)

// RequestProcessor processes the request before sending it to the provider.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request in place.
	ProcessRequest(st *core.State, req *model.Request) error
}

// ResponseProcessor processes the response after receiving it from the provider.
type ResponseProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessResponse may rewrite the response text.
	ProcessResponse(st *core.State, resp *model.Response) error
}

// Flow runs its processors in registration order.
type Flow struct {
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
}

// New creates an empty flow.
func New() *Flow {
	return &Flow{}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *Flow) AddRequestProcessor(p RequestProcessor) *Flow {
	f.requestProcessors = append(f.requestProcessors, p)
	return f
}

// AddResponseProcessor appends a response processor.
func (f *Flow) AddResponseProcessor(p ResponseProcessor) *Flow {
	f.responseProcessors = append(f.responseProcessors, p)
	return f
}

// BuildRequest produces a fresh request for st.
func (f *Flow) BuildRequest(st *core.State) (model.Request, error) {
	var req model.Request
	for _, p := range f.requestProcessors {
		if err := p.ProcessRequest(st, &req); err != nil {
			return model.Request{}, fmt.Errorf("request processor %s: %w", p.Name(), err)
		}
	}
	return req, nil
}

// ProcessResponse runs all response processors over resp.
func (f *Flow) ProcessResponse(st *core.State, resp *model.Response) error {
	for _, p := range f.responseProcessors {
		if err := p.ProcessResponse(st, resp); err != nil {
			return fmt.Errorf("response processor %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Options tune the default flow.
type Options struct {
	Instructions  string
	TurnLimit     int
	MaxTokens     int
	Temperature   *float64
	MaxReactionID int64
}

// NewDefault returns the standard decide flow: instructions, context,
// current event, generation limits, then fence stripping on the response.
func NewDefault(optFns ...func(o *Options)) *Flow {
	opts := Options{Instructions: DefaultInstructions, TurnLimit: 14, MaxTokens: 260}
	for _, fn := range optFns {
		fn(&opts)
	}

	return New().
		AddRequestProcessor(NewInstructionsProcessor(opts.Instructions, opts.MaxReactionID)).
		AddRequestProcessor(NewContextProcessor(opts.TurnLimit)).
		AddRequestProcessor(NewEventProcessor()).
		AddRequestProcessor(NewGenerationProcessor(opts.MaxTokens, opts.Temperature)).
		AddResponseProcessor(NewFenceProcessor())
}
