package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSpansWithoutProvider(t *testing.T) {
	ctx, span := StartTaskSpan(context.Background(), SpanTransition, "A|1", "10002")
	defer span.End()

	RecordError(span, fmt.Errorf("x: %w", types.ErrInvalidInterval), ErrorCategoryValidation)
	RecordErrorWithStatus(span, nil, "")
	SetTaskStatus(span, "Done")
	assert.Empty(t, GetTraceID(ctx), "no-op provider yields no trace id")
}

func TestErrorTypeFromError(t *testing.T) {
	assert.Equal(t, "NotEditable", ErrorTypeFromError(fmt.Errorf("t: %w", types.ErrNotEditable)))
	assert.Equal(t, "", ErrorTypeFromError(nil))
}
