package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes errors
type ErrorCode string

const (
	ErrCodeProcessing ErrorCode = "PROCESSING_ERROR"
	ErrCodeFFmpeg     ErrorCode = "FFMPEG_ERROR"
	ErrCodeInput      ErrorCode = "INPUT_ERROR"
	ErrCodeDecode     ErrorCode = "DECODE_ERROR"
	ErrCodeFeature    ErrorCode = "FEATURE_ERROR"
	ErrCodeShape      ErrorCode = "SHAPE_ERROR"
	ErrCodeLabel      ErrorCode = "LABEL_ERROR"
	ErrCodeInference  ErrorCode = "INFERENCE_ERROR"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// AffectError is the base structured error
type AffectError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AffectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AffectError) Unwrap() error {
	return e.Cause
}

// ProcessingError represents a failure in a pipeline stage that has no
// more specific type.
type ProcessingError struct {
	AffectError
	Stage string
}

func NewProcessingError(stage, message string, cause error) *ProcessingError {
	return &ProcessingError{
		AffectError: AffectError{
			Code:    ErrCodeProcessing,
			Message: message,
			Cause:   cause,
		},
		Stage: stage,
	}
}

func (e *ProcessingError) Error() string {
	base := e.AffectError.Error()
	return fmt.Sprintf("%s (stage=%s)", base, e.Stage)
}

// FFmpegError represents an FFmpeg execution failure
type FFmpegError struct {
	AffectError
	Args     []string
	ExitCode int
	Stderr   string
}

func NewFFmpegError(message string, args []string, exitCode int, stderr string, cause error) *FFmpegError {
	return &FFmpegError{
		AffectError: AffectError{
			Code:    ErrCodeFFmpeg,
			Message: message,
			Cause:   cause,
		},
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("[%s] %s (exit=%d, stderr=%q): %v",
		e.Code, e.Message, e.ExitCode, truncate(e.Stderr, 200), e.Cause)
}

// InputError rejects a request before any feature is computed: empty
// waveforms, bad sample rates, missing files.
type InputError struct {
	AffectError
	Field string
	Value interface{}
}

func NewInputError(field string, value interface{}, message string) *InputError {
	return &InputError{
		AffectError: AffectError{
			Code:    ErrCodeInput,
			Message: message,
		},
		Field: field,
		Value: value,
	}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("[%s] field=%s value=%v: %s", e.Code, e.Field, e.Value, e.Message)
}

// DecodeError means an audio file could not be turned into samples.
type DecodeError struct {
	AffectError
	Path   string
	Format string
}

func NewDecodeError(path, format, message string, cause error) *DecodeError {
	return &DecodeError{
		AffectError: AffectError{
			Code:    ErrCodeDecode,
			Message: message,
			Cause:   cause,
		},
		Path:   path,
		Format: format,
	}
}

func (e *DecodeError) Error() string {
	base := e.AffectError.Error()
	return fmt.Sprintf("%s (path=%s format=%s)", base, e.Path, e.Format)
}

// FeatureError names the feature blocks that failed. The feature vector
// is never partially returned alongside it.
type FeatureError struct {
	AffectError
	Blocks []string
}

func NewFeatureError(blocks []string, cause error) *FeatureError {
	return &FeatureError{
		AffectError: AffectError{
			Code:    ErrCodeFeature,
			Message: "feature extraction failed",
			Cause:   cause,
		},
		Blocks: blocks,
	}
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("[%s] %s (blocks=%s): %v", e.Code, e.Message, strings.Join(e.Blocks, ","), e.Cause)
}

// ShapeMismatchError is a configuration fault: the vector and the network
// disagree on width. It is never retried.
type ShapeMismatchError struct {
	AffectError
	What     string
	Expected int
	Got      int
}

func NewShapeMismatchError(what string, expected, got int) *ShapeMismatchError {
	return &ShapeMismatchError{
		AffectError: AffectError{
			Code:    ErrCodeShape,
			Message: "model shape mismatch",
		},
		What:     what,
		Expected: expected,
		Got:      got,
	}
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("[%s] %s: %s expected %d, got %d", e.Code, e.Message, e.What, e.Expected, e.Got)
}

// UnmappedLabelError signals drift between the model and the label set.
type UnmappedLabelError struct {
	AffectError
	Index int
	Label string
}

func NewUnmappedLabelError(index int, label string) *UnmappedLabelError {
	return &UnmappedLabelError{
		AffectError: AffectError{
			Code:    ErrCodeLabel,
			Message: "label is not part of the emotion set",
		},
		Index: index,
		Label: label,
	}
}

func (e *UnmappedLabelError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("[%s] %s: label=%q", e.Code, e.Message, e.Label)
	}
	return fmt.Sprintf("[%s] %s: index=%d", e.Code, e.Message, e.Index)
}

// InferenceError wraps a failure inside the network itself.
type InferenceError struct {
	AffectError
	Backend string
}

func NewInferenceError(backend, message string, cause error) *InferenceError {
	return &InferenceError{
		AffectError: AffectError{
			Code:    ErrCodeInference,
			Message: message,
			Cause:   cause,
		},
		Backend: backend,
	}
}

func (e *InferenceError) Error() string {
	base := e.AffectError.Error()
	return fmt.Sprintf("%s (backend=%s)", base, e.Backend)
}

// CodeOf returns the code of the first AffectError in the chain, or "".
func CodeOf(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *AffectError:
			return e.Code
		case *ProcessingError:
			return e.Code
		case *FFmpegError:
			return e.Code
		case *InputError:
			return e.Code
		case *DecodeError:
			return e.Code
		case *FeatureError:
			return e.Code
		case *ShapeMismatchError:
			return e.Code
		case *UnmappedLabelError:
			return e.Code
		case *InferenceError:
			return e.Code
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Is enables errors.Is checks
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As enables errors.As checks
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
