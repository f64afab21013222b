package ssr

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InitKind categorizes errors that prevent a Renderer from being constructed.
type InitKind string

const (
	KindInvalidAddr               InitKind = "invalid_addr"
	KindInvalidWorkerPath         InitKind = "invalid_worker_path"
	KindInvalidGlobalRendererPath InitKind = "invalid_global_renderer_path"
	KindSpawn                     InitKind = "spawn"
)

// InitError is returned by New. It is never retried.
type InitError struct {
	Kind  InitKind
	Path  string
	Cause error
}

func (e *InitError) Error() string {
	switch e.Kind {
	case KindInvalidAddr:
		return fmt.Sprintf("invalid worker address: %v", e.Cause)
	case KindInvalidWorkerPath:
		return fmt.Sprintf("invalid renderer worker path %q: %v; make sure the file exists and the path is valid", e.Path, e.Cause)
	case KindInvalidGlobalRendererPath:
		return fmt.Sprintf("invalid global renderer path %q: %v; make sure the file exists and the path is valid", e.Path, e.Cause)
	case KindSpawn:
		return fmt.Sprintf("failed to spawn renderer process: %v", e.Cause)
	}
	return fmt.Sprintf("initialization error (%s): %v", e.Kind, e.Cause)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// Is matches any *InitError of the same kind, so the sentinels below work with errors.Is.
func (e *InitError) Is(target error) bool {
	t, ok := target.(*InitError)
	return ok && t.Kind == e.Kind
}

// RenderKind categorizes errors returned by Render.
type RenderKind string

const (
	KindWorkerUnavailable         RenderKind = "worker_unavailable"
	KindConnection                RenderKind = "connection"
	KindInvalidURI                RenderKind = "invalid_uri"
	KindGlobalRendererNotProvided RenderKind = "global_renderer_not_provided"
	KindMetadataSerialization     RenderKind = "metadata_serialization"
	KindDataSerialization         RenderKind = "data_serialization"
	KindRenderRequest             RenderKind = "render_request"
	KindRenderResponse            RenderKind = "render_response"
	KindJSException               RenderKind = "js_exception"
)

// RenderError is returned by Render. Callers decide whether to retry.
// Message is only set for KindJSException and holds the renderer's exception description.
type RenderError struct {
	Kind      RenderKind
	RequestID uuid.UUID
	Message   string
	Cause     error
}

func (e *RenderError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindWorkerUnavailable:
		b.WriteString("worker is unavailable")
	case KindConnection:
		b.WriteString("connection error")
	case KindInvalidURI:
		b.WriteString("invalid URI")
	case KindGlobalRendererNotProvided:
		b.WriteString("render request uses the global renderer but none was provided on initialization")
	case KindMetadataSerialization:
		b.WriteString("failed to serialize request metadata")
	case KindDataSerialization:
		b.WriteString("failed to serialize data")
	case KindRenderRequest, KindRenderResponse:
		b.WriteString("failed to communicate with renderer process")
	case KindJSException:
		b.WriteString("JS exception during rendering: ")
		b.WriteString(e.Message)
		return b.String()
	default:
		b.WriteString("render error (")
		b.WriteString(string(e.Kind))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Is matches any *RenderError of the same kind.
func (e *RenderError) Is(target error) bool {
	t, ok := target.(*RenderError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidAddr               = &InitError{Kind: KindInvalidAddr}
	ErrInvalidWorkerPath         = &InitError{Kind: KindInvalidWorkerPath}
	ErrInvalidGlobalRendererPath = &InitError{Kind: KindInvalidGlobalRendererPath}
	ErrSpawn                     = &InitError{Kind: KindSpawn}

	ErrWorkerUnavailable         = &RenderError{Kind: KindWorkerUnavailable}
	ErrConnection                = &RenderError{Kind: KindConnection}
	ErrInvalidURI                = &RenderError{Kind: KindInvalidURI}
	ErrGlobalRendererNotProvided = &RenderError{Kind: KindGlobalRendererNotProvided}
	ErrMetadataSerialization     = &RenderError{Kind: KindMetadataSerialization}
	ErrDataSerialization         = &RenderError{Kind: KindDataSerialization}
	ErrRenderRequest             = &RenderError{Kind: KindRenderRequest}
	ErrRenderResponse            = &RenderError{Kind: KindRenderResponse}
	ErrJSException               = &RenderError{Kind: KindJSException}
)
