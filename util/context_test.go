package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValueFromCtx(t *testing.T) {
	type TestStruct struct {
		Field string
	}

	tests := []struct {
		name        string
		setupCtx    func() context.Context
		key         CtxKey
		wantValue   interface{}
		wantErrCode int64
	}{
		{
			name: "string value - success",
			setupCtx: func() context.Context {
				return ValueToCtx(context.Background(), "string-key", "test-value")
			},
			key:       "string-key",
			wantValue: "test-value",
		},
		{
			name: "struct value - success",
			setupCtx: func() context.Context {
				return ValueToCtx(context.Background(), "struct-key", TestStruct{Field: "test"})
			},
			key:       "struct-key",
			wantValue: TestStruct{Field: "test"},
		},
		{
			name: "nil value - error",
			setupCtx: func() context.Context {
				return context.Background()
			},
			key:         "missing-key",
			wantValue:   "",
			wantErrCode: ErrCodeValueNotFoundInContext,
		},
		{
			name: "wrong type - error",
			setupCtx: func() context.Context {
				return ValueToCtx(context.Background(), "wrong-type", 42)
			},
			key:         "wrong-type",
			wantValue:   "",
			wantErrCode: ErrCodeInvalidValueInContext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.setupCtx()

			switch expected := tt.wantValue.(type) {
			case string:
				got, err := ValueFromCtx[string](ctx, tt.key)
				if tt.wantErrCode != 0 {
					require.Error(t, err)
					utilErr, ok := err.(*UtilError)
					require.True(t, ok)
					assert.Equal(t, tt.wantErrCode, utilErr.GetCode())
				} else {
					assert.NoError(t, err)
					assert.Equal(t, expected, got)
				}
			case TestStruct:
				got, err := ValueFromCtx[TestStruct](ctx, tt.key)
				assert.NoError(t, err)
				assert.Equal(t, expected, got)
			}
		})
	}
}

func TestLoggerFromCtx(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lg := zap.New(core)

	ctx := CorrelationIdToCtx(context.Background(), "corr-1")
	LoggerFromCtx(ctx, lg).Info("with id")
	LoggerFromCtx(context.Background(), lg).Info("without id")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "corr-1", entries[0].ContextMap()["correlationId"])
	_, ok := entries[1].ContextMap()["correlationId"]
	assert.False(t, ok)
}
