package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessagePrecedence(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"explicit message", &Error{Code: "x", Message: "boom", Err: errors.New("cause")}, "boom"},
		{"falls back to cause", &Error{Code: "x", Err: errors.New("cause")}, "cause"},
		{"falls back to code", &Error{Code: "x"}, "x"},
		{"bare", &Error{}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrVendor, "heygen unreachable")

	if err.Code != "vendor_error" || err.Status != http.StatusBadGateway {
		t.Errorf("wrapped = %+v", err)
	}
	if err.Message != "heygen unreachable" {
		t.Errorf("message = %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost in the wrap")
	}
	if ErrVendor.Err != nil || ErrVendor.Message != "" {
		t.Error("wrap mutated the sentinel")
	}

	if Wrap(nil, ErrVendor, "ignored") != nil {
		t.Error("wrapping nil should stay nil")
	}
}

func TestAsThroughWrapping(t *testing.T) {
	inner := Wrap(errors.New("disk full"), ErrDatabase, "")
	outer := fmt.Errorf("saving job: %w", inner)

	e, ok := As(outer)
	if !ok {
		t.Fatal("apperr not found through fmt wrapping")
	}
	if e.Code != "database_error" {
		t.Errorf("code = %q", e.Code)
	}
	if Status(outer) != http.StatusInternalServerError {
		t.Errorf("status = %d", Status(outer))
	}
}

func TestStatusCodeMessageFallbacks(t *testing.T) {
	plain := errors.New("something broke")
	if Status(plain) != http.StatusInternalServerError {
		t.Errorf("status = %d", Status(plain))
	}
	if Code(plain) != "internal_error" {
		t.Errorf("code = %q", Code(plain))
	}
	if Message(plain) != "something broke" {
		t.Errorf("message = %q", Message(plain))
	}
	if Message(nil) != "" {
		t.Errorf("message(nil) = %q", Message(nil))
	}
}

func TestWithFields(t *testing.T) {
	err := WithFields(ErrValidation, map[string]any{"prompt": "required"})
	if err.Fields["prompt"] != "required" {
		t.Errorf("fields = %v", err.Fields)
	}
	if err.Code != "validation_error" || err.Status != http.StatusBadRequest {
		t.Errorf("base lost: %+v", err)
	}
	if len(ErrValidation.Fields) != 0 {
		t.Error("WithFields mutated the sentinel")
	}
}

func TestPayload(t *testing.T) {
	err := WithFields(ErrValidation, map[string]any{"kind": "must be image, video or avatar"})
	payload := Payload(err)
	if payload["code"] != "validation_error" {
		t.Errorf("payload code = %v", payload["code"])
	}
	if _, ok := payload["fields"]; !ok {
		t.Error("payload dropped the field errors")
	}

	plain := Payload(errors.New("oops"))
	if plain["code"] != "internal_error" || plain["message"] != "oops" {
		t.Errorf("plain payload = %v", plain)
	}
}
