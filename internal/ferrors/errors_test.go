// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ferrors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if Wrap(nil, KindUnavailable, "unreachable") != nil {
		t.Error("Wrap(nil, ...) must return nil")
	}
	if Wrapf(nil, KindUnavailable, "unreachable: %d", 1) != nil {
		t.Error("Wrapf(nil, ...) must return nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestAttr_RoundTrip(t *testing.T) {
	err := Wrap(errors.New("unexpected token"), KindValidation, "config: NETFILTER_OPTIONS is not valid JSON")
	err = Attr(err, "raw", "{not json")

	key, val, ok := GetAttr(err)
	if !ok || key != "raw" || val != "{not json" {
		t.Errorf("expected raw={not json}, got key=%q val=%v ok=%v", key, val, ok)
	}
}

func TestAttr_WrapsPlainError(t *testing.T) {
	err := Attr(errors.New("plain"), "raw", "x")
	if GetKind(err) != KindInternal {
		t.Errorf("expected a plain error to be wrapped as KindInternal, got %v", GetKind(err))
	}
	key, val, ok := GetAttr(err)
	if !ok || key != "raw" || val != "x" {
		t.Errorf("expected raw=x, got key=%q val=%v ok=%v", key, val, ok)
	}
}
