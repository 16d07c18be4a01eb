package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Kind classifies a pipeline failure. Kinds are recorded in the manifest as
// failure_kind and drive the terminal status of a Run.
type Kind string

const (
	KindIngestNoTranscript Kind = "ingest-no-transcript"
	KindIngestPDFEmpty     Kind = "ingest-pdf-empty"
	KindIngestFetch        Kind = "ingest-fetch"
	KindIngestEmpty        Kind = "ingest-empty"
	KindIngestTooShort     Kind = "ingest-too-short"
	KindResearchValidation Kind = "research-validation"
	KindSynthesis          Kind = "synthesis-unparseable"
	KindLLMTransport       Kind = "llm-transport"
	KindLLMRateLimited     Kind = "llm-rate-limited"
	KindLLMContentEmpty    Kind = "llm-content-empty"
	KindLLMExhausted       Kind = "llm-exhausted"
	KindLLMNoProvider      Kind = "llm-no-provider"
	KindBudgetExhausted    Kind = "budget-exhausted"
	KindDebugExhausted     Kind = "debug-exhausted"
	KindOptimizeExhausted  Kind = "optimize-exhausted"
	KindRunTimeout         Kind = "run-timeout"
	KindCancelled          Kind = "cancelled"
	KindArtifactExists     Kind = "artifact-exists"
	KindArtifactEscape     Kind = "artifact-escape"
	KindInvalidConfig      Kind = "invalid-config"
	KindInternal           Kind = "internal"
)

// PipelineError is the error type carried across stage boundaries
type PipelineError struct {
	Kind      Kind
	Stage     domain.Stage
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = msg + ": " + e.Cause.Error()
		}
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any PipelineError of the same kind, so sentinel comparisons
// like errors.Is(err, &PipelineError{Kind: KindLLMExhausted}) work.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !stderrors.As(target, &t) || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// Newf creates a PipelineError with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, cause error, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

// Retryable marks a transient error
func Retryable(kind Kind, cause error, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause, Retryable: true}
}

// InStage returns a copy of err tagged with stage, unless it already carries one
func InStage(stage domain.Stage, err error) error {
	var pe *PipelineError
	if !stderrors.As(err, &pe) {
		return &PipelineError{Kind: KindInternal, Stage: stage, Cause: err}
	}
	if pe.Stage != "" {
		return err
	}
	cp := *pe
	cp.Stage = stage
	return &cp
}

// FromContext converts a finished context into a run-timeout or cancelled
// error. It returns nil while ctx is still live.
func FromContext(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(KindRunTimeout, err, "run wall-clock timeout exceeded")
	default:
		return Wrap(KindCancelled, err, "run cancelled")
	}
}

// KindOf returns the kind of the outermost PipelineError in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// HasKind reports whether err is a PipelineError of kind
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InChain reports whether any error in err's chain has kind. KindOf only
// looks at the outermost PipelineError.
func InChain(err error, kind Kind) bool {
	return stderrors.Is(err, &PipelineError{Kind: kind})
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsFailure reports whether the kind is a real failure. The exhausted search
// kinds end a Run normally with the best program found so far.
func (k Kind) IsFailure() bool {
	return k != "" && k != KindDebugExhausted && k != KindOptimizeExhausted
}

// TerminalStatusFor maps a stage error to the Run's terminal status.
func TerminalStatusFor(stage domain.Stage, err error) domain.RunStatus {
	switch KindOf(err) {
	case KindDebugExhausted:
		return domain.RunStatusDebugExhausted
	case KindOptimizeExhausted:
		return domain.RunStatusOptimizeExhausted
	}
	switch stage {
	case domain.StageIngest, domain.StageResearch:
		return domain.RunStatusResearchFailed
	case domain.StageSynthesis, domain.StageDraft:
		return domain.RunStatusSynthesisFailed
	case domain.StageDebug:
		return domain.RunStatusDebugExhausted
	case domain.StageOptimize:
		return domain.RunStatusOptimizeExhausted
	}
	return domain.RunStatusResearchFailed
}
