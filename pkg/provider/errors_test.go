package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			name: "bucket and key",
			err:  &ProviderError{Op: "GetObject", Provider: ProviderS3, Bucket: "hep", Key: "warmup/a.tar.gz", Err: ErrNotFound},
			want: "s3 GetObject: hep/warmup/a.tar.gz: object not found",
		},
		{
			name: "key only",
			err:  &ProviderError{Op: "Head", Provider: ProviderFile, Key: "input/x", Err: ErrAccessDenied},
			want: "file Head: input/x: access denied",
		},
		{
			name: "no context",
			err:  &ProviderError{Op: "New", Provider: ProviderGfal, Err: errors.New("boom")},
			want: "gfal New: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &ProviderError{Op: "Head", Provider: ProviderMinio, Err: ErrNotFound})
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsAccessDenied(wrapped))
	assert.True(t, IsRetryable(&ProviderError{Err: ErrThrottled}))
	assert.True(t, IsRetryable(&ProviderError{Err: ErrProviderUnavailable}))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsInvalidCredentials(&ProviderError{Err: ErrInvalidCredentials}))
}
