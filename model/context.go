package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the identity and tracing information of the user
// acting on the cartable. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	SubjectID     string
	DisplayName   string
	Role          string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	SpanID        string
	Locale        string
}

// Validate checks that all mandatory fields are present.
// SubjectID and Role must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if rc.Role == "" {
		errs = append(errs, fmt.Errorf("Role is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the user holds the given role.
func (rc *RequestContext) HasRole(role string) bool {
	return rc.Role != "" && rc.Role == role
}

// Name returns the display name, falling back to the subject id.
func (rc *RequestContext) Name() string {
	if rc.DisplayName != "" {
		return rc.DisplayName
	}
	return rc.SubjectID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Only call it in handlers mounted behind the
// authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
