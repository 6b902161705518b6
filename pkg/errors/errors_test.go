package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeBackendFailure, "llm chat failed", cause)

	msg := err.Error()
	if !strings.Contains(msg, "BACKEND_FAILURE") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeInternal, "wrapped", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsCode(t *testing.T) {
	err := Newf(CodeMissingInput, "key %q not set", "messages")
	if !Is(err, CodeMissingInput) {
		t.Error("expected CodeMissingInput")
	}
	if Is(err, CodeNotFound) {
		t.Error("did not expect CodeNotFound")
	}
	if Is(stderrors.New("plain"), CodeInternal) {
		t.Error("plain errors carry no code")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("expected CodeInternal for plain error, got %s", got)
	}
	if got := CodeOf(New(CodeConfiguration, "mode mismatch", nil)); got != CodeConfiguration {
		t.Errorf("expected CodeConfiguration, got %s", got)
	}
}

func TestRecoverableDefaults(t *testing.T) {
	if New(CodeMissingInput, "m", nil).Recoverable {
		t.Error("missing input must not be retryable by default")
	}
	if !New(CodeBackendFailure, "b", nil).Recoverable {
		t.Error("backend failures are retryable by default")
	}
	if !New(CodeConfiguration, "c", nil).WithRecoverable(true).Recoverable {
		t.Error("WithRecoverable override lost")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeNotFound:         404,
		CodeMissingInput:     400,
		CodeInvalidArguments: 400,
		CodeConfiguration:    400,
		CodeBackendFailure:   502,
		CodeInternal:         500,
	}
	for code, want := range cases {
		if got := New(code, "x", nil).HTTPStatus(); got != want {
			t.Errorf("code %s: expected %d, got %d", code, want, got)
		}
	}
}
