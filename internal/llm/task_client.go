// ABOUTME: TaskClient binds a Backend, a Task and a model into the pipeline's oracle and generator
// ABOUTME: Every call renders the batch afresh and runs under a per-request timeout
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/kbdistill/internal/models"
)

// TaskClient estimates and generates batches for one task on one model
type TaskClient struct {
	backend Backend
	task    Task
	model   string
	timeout time.Duration
}

// NewTaskClient creates a TaskClient; timeout <= 0 means no per-request deadline
func NewTaskClient(backend Backend, task Task, model string, timeout time.Duration) *TaskClient {
	return &TaskClient{backend: backend, task: task, model: model, timeout: timeout}
}

// Task returns the bound task
func (c *TaskClient) Task() Task {
	return c.task
}

// EstimateCost asks the provider's token oracle how large the rendered batch is
func (c *TaskClient) EstimateCost(ctx context.Context, batch models.Batch) (int, error) {
	p, err := c.task.Render(batch)
	if err != nil {
		return 0, fmt.Errorf("%s: render batch %d: %w", c.task.Name(), batch.Index, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.CountTokens(ctx, c.model, p)
}

// Generate submits the rendered batch and returns the raw response text
func (c *TaskClient) Generate(ctx context.Context, batch models.Batch) (string, error) {
	p, err := c.task.Render(batch)
	if err != nil {
		return "", fmt.Errorf("%s: render batch %d: %w", c.task.Name(), batch.Index, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.Generate(ctx, c.model, p)
}

func (c *TaskClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
