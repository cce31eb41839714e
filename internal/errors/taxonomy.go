package errors

import (
	"context"
	"errors"
	"strings"

	"github.com/docmediator/docmediator/internal/stack"
)

// Request-level error categories. Planning and structural errors abort the
// request; data errors stay attached to one document.
var (
	ErrPlanning        = errors.New("planning error")
	ErrNoValidPlan     = With(errors.New("no valid query plan"), ErrPlanning)
	ErrMissingExecutor = With(errors.New("plan node has no executor"), ErrPlanning)
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNoAccess        = errors.New("no access")
	ErrResultTooLarge  = errors.New("result set too large")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrData            = errors.New("data error")
)

// Code identifies an error category on the wire.
type Code string

const (
	CodeNoValidPlan     Code = "mediator:NoValidPlan"
	CodeMissingExecutor Code = "mediator:MissingExecutor"
	CodePlanning        Code = "mediator:PlanningError"
	CodeInvalidRequest  Code = "mediator:InvalidRequest"
	CodeNoAccess        Code = "mediator:NoAccess"
	CodeResultTooLarge  Code = "mediator:ResultTooLarge"
	CodeUnknownEntity   Code = "metadata:UnknownEntity"
	CodeData            Code = "mediator:DataError"
	CodeInternal        Code = "mediator:InternalError"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNoValidPlan, CodeNoValidPlan},
	{ErrMissingExecutor, CodeMissingExecutor},
	{ErrPlanning, CodePlanning},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrNoAccess, CodeNoAccess},
	{ErrResultTooLarge, CodeResultTooLarge},
	{ErrUnknownEntity, CodeUnknownEntity},
	{ErrData, CodeData},
}

// CodeOf returns the most specific category of err.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

type operationKey struct{}

// WithOperation returns a context recording that name is in progress, below
// the operations already recorded in ctx.
func WithOperation(ctx context.Context, name string) context.Context {
	s, _ := ctx.Value(operationKey{}).(*stack.Stack[string])
	return context.WithValue(ctx, operationKey{}, stack.Push(s, name))
}

// OperationPath renders the operations recorded in ctx, outermost first,
// e.g. `find(user:1.0.0)/search/assemble(address)`.
func OperationPath(ctx context.Context) string {
	s, _ := ctx.Value(operationKey{}).(*stack.Stack[string])
	return strings.Join(s.Slice(), "/")
}

// Error is a request error carrying its category and the operation path at
// which it happened.
type Error struct {
	Code    Code   `json:"errorCode"`
	Context string `json:"context,omitempty"`
	Msg     string `json:"msg"`

	err error
}

func (e *Error) Error() string {
	if e.Context == "" {
		return string(e.Code) + ": " + e.Msg
	}
	return e.Context + ": " + string(e.Code) + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Annotate converts err into an *Error located at the operation path of
// ctx. An err that already is an *Error keeps its original location.
func Annotate(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeOf(err),
		Context: OperationPath(ctx),
		Msg:     err.Error(),
		err:     err,
	}
}
