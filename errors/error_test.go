package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{name: "bad request", err: BadRequest(ErrCodeMissingRecordID, "record 0 has no _id", nil), want: http.StatusBadRequest},
		{name: "internal", err: Internal(ErrCodePullFailed, "pull failed", nil), want: http.StatusInternalServerError},
		{name: "no status attached", err: NewError(ErrCodePublishFailed, "publish failed", nil), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.GetStatusCode())
		})
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := stderrors.New("broker unavailable")
	err := Internal(ErrCodePublishFailed, "publish failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "publish failed: broker unavailable", err.Error())
	assert.Equal(t, "publish failed", err.GetMessage())
	assert.Equal(t, int64(ErrCodePublishFailed), err.GetCode())

	var target *Error
	assert.True(t, stderrors.As(error(err), &target))
	assert.Equal(t, "topic-a", target.WithDetails("topic-a").GetDetails())
}
