package mediator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/pkg/logger"
)

// OperationContext is the state shared by every task of one request. Its
// error list and memory counter may be updated concurrently.
type OperationContext struct {
	RequestID string
	Roles     []string
	Logger    logger.Logger

	memoryThreshold int64
	memory          atomic.Int64
	tooLarge        atomic.Bool

	mu     sync.Mutex
	errors []*mediatorErrors.Error
}

// NewOperationContext starts the context of one request. A memoryThreshold
// of zero or less disables memory accounting.
func NewOperationContext(roles []string, memoryThreshold int64, log logger.Logger) *OperationContext {
	id := uuid.NewString()
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &OperationContext{
		RequestID:       id,
		Roles:           roles,
		Logger:          log.With(zap.String("request_id", id)),
		memoryThreshold: memoryThreshold,
	}
}

// AddError records a request error located at the operation path of ctx.
func (o *OperationContext) AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	e := mediatorErrors.Annotate(ctx, err)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, e)
}

// Errors returns the request errors recorded so far.
func (o *OperationContext) Errors() []*mediatorErrors.Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*mediatorErrors.Error(nil), o.errors...)
}

// HasErrors reports whether a request error was recorded.
func (o *OperationContext) HasErrors() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errors) > 0
}

// AddMemory accounts for n more bytes held by the request. Once the total
// exceeds the threshold every call fails; the error is recorded only once.
func (o *OperationContext) AddMemory(ctx context.Context, n int) error {
	total := o.memory.Add(int64(n))
	if o.memoryThreshold <= 0 || total <= o.memoryThreshold {
		return nil
	}
	err := fmt.Errorf("%w: %d bytes exceed the threshold of %d", mediatorErrors.ErrResultTooLarge, total, o.memoryThreshold)
	if o.tooLarge.CompareAndSwap(false, true) {
		o.AddError(ctx, err)
	}
	return err
}

// Memory returns the bytes accounted so far.
func (o *OperationContext) Memory() int64 {
	return o.memory.Load()
}
