package httpclient

import (
	"fmt"
	"testing"
)

func TestClassifyStatusCode(t *testing.T) {
	cases := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{401, ErrCodeAuth, false},
		{403, ErrCodeAuth, false},
		{404, ErrCodeNotFound, false},
		{409, ErrCodeConflict, false},
		{412, ErrCodeConflict, false},
		{429, ErrCodeRateLimit, true},
		{400, ErrCodeValidation, false},
		{500, ErrCodeServer, true},
		{503, ErrCodeServer, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			err := ClassifyStatusCode(tc.status, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Code != tc.code || err.Retryable != tc.retryable {
				t.Errorf("got %s retryable=%v", err.Code, err.Retryable)
			}
		})
	}
	if ClassifyStatusCode(201, nil) != nil {
		t.Error("2xx must not be an error")
	}
}

func TestErrorHelpersUnwrap(t *testing.T) {
	err := fmt.Errorf("claim: %w", ClassifyStatusCode(409, []byte(`{}`)))
	if !IsConflict(err) {
		t.Error("IsConflict must see wrapped errors")
	}
	if IsNotFound(err) || IsRetryable(err) {
		t.Error("conflict is neither not-found nor retryable")
	}
}
