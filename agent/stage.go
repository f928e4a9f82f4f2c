package agent

import (
	"context"

	"github.com/hupe1980/chatagent/core"
)

// Stage is one step of the pipeline. Name returns the stage the state reaches
// once Run's update has been applied. Run must not mutate st.
type Stage interface {
	Name() core.Stage
	Run(ctx context.Context, st *core.State) core.Update
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	Stage core.Stage
	Fn    func(ctx context.Context, st *core.State) core.Update
}

// Name returns the stage reached by f.
func (f StageFunc) Name() core.Stage { return f.Stage }

// Run calls f.Fn.
func (f StageFunc) Run(ctx context.Context, st *core.State) core.Update { return f.Fn(ctx, st) }
