package enforce

import (
	"fmt"

	"github.com/RamXX/bmdash/internal/model"
	"github.com/felixgeelhaar/statekit"
)

// Workflow stages a story moves through.
const (
	StagePlanned   = "planned"
	StageDrafted   = "drafted"
	StageDeveloped = "developed"
	StageReviewed  = "reviewed"
	StageVerified  = "verified"
)

var stageForWorkflow = map[string]string{
	model.WorkflowCreateStory: StageDrafted,
	model.WorkflowDevStory:    StageDeveloped,
	model.WorkflowCodeReview:  StageReviewed,
	model.WorkflowTest:        StageVerified,
}

type lifecycleContext struct {
	StoryID string
}

// Lifecycle replays a story's workflow history through a state machine.
type Lifecycle struct {
	interpreter *statekit.Interpreter[lifecycleContext]
	outOfOrder  []string
}

// NewLifecycle builds the stage machine for one story.
func NewLifecycle(storyID string) (*Lifecycle, error) {
	builder := statekit.NewMachine[lifecycleContext]("story-lifecycle").
		WithInitial(statekit.StateID(StagePlanned)).
		WithContext(lifecycleContext{StoryID: storyID})

	builder.State(StagePlanned).
		On(model.WorkflowCreateStory).Target(StageDrafted).
		On(model.WorkflowDevStory).Target(StageDeveloped).
		Done()

	builder.State(StageDrafted).
		On(model.WorkflowCreateStory).Target(StageDrafted).
		On(model.WorkflowDevStory).Target(StageDeveloped).
		Done()

	builder.State(StageDeveloped).
		On(model.WorkflowDevStory).Target(StageDeveloped).
		On(model.WorkflowCodeReview).Target(StageReviewed).
		On(model.WorkflowTest).Target(StageVerified).
		Done()

	builder.State(StageReviewed).
		On(model.WorkflowDevStory).Target(StageDeveloped).
		On(model.WorkflowCodeReview).Target(StageReviewed).
		On(model.WorkflowTest).Target(StageVerified).
		Done()

	builder.State(StageVerified).
		On(model.WorkflowDevStory).Target(StageDeveloped).
		On(model.WorkflowCodeReview).Target(StageReviewed).
		On(model.WorkflowTest).Target(StageVerified).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build lifecycle machine: %w", err)
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &Lifecycle{interpreter: interp}, nil
}

// Stage returns the current stage.
func (l *Lifecycle) Stage() string {
	return string(l.interpreter.State().Value)
}

// Apply feeds one workflow execution. Steps the machine rejects are
// recorded as out of order.
func (l *Lifecycle) Apply(workflow string) {
	target, ok := stageForWorkflow[workflow]
	if !ok {
		return
	}
	before := l.Stage()
	l.interpreter.Send(statekit.Event{Type: statekit.EventType(workflow)})
	if l.Stage() != target {
		l.outOfOrder = append(l.outOfOrder, fmt.Sprintf("%s while %s", workflow, before))
	}
}

// OutOfOrder lists the rejected steps.
func (l *Lifecycle) OutOfOrder() []string {
	return l.outOfOrder
}

// Replay applies history oldest first. Skipped entries are ignored.
func (l *Lifecycle) Replay(history []model.WorkflowEntry) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Result == model.ResultSkipped {
			continue
		}
		l.Apply(history[i].Name)
	}
}
