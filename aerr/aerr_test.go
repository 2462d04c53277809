package aerr

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestIsKind(t *testing.T) {
	e := New(CodeZipBadCRC, KindIntegrity, "open", "crc mismatch")
	if !errors.Is(e, KindIntegrity) {
		t.Fatalf("expected errors.Is to match KindIntegrity")
	}
	if errors.Is(e, KindFormat) {
		t.Fatalf("did not expect errors.Is to match KindFormat")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(CodeInternal, KindInternal, "op", "wrapped", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestMarshalJSONLargeOffset(t *testing.T) {
	off := MaxSafeInteger + 1
	e := New(CodeZipTruncated, KindFormat, "open", "truncated")
	e.Offset = &off
	e.Context = map[string]string{"code": "shadowed", "detail": "x"}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out["offset"] != "9007199254740992" {
		t.Fatalf("expected string offset, got %v (%T)", out["offset"], out["offset"])
	}
	ctx, _ := out["context"].(map[string]interface{})
	if _, ok := ctx["code"]; ok {
		t.Fatalf("expected shadowed context key to be dropped")
	}
	if ctx["detail"] != "x" {
		t.Fatalf("expected non-shadowed context key to survive")
	}
	if out["schemaVersion"] != "1" {
		t.Fatalf("expected schemaVersion 1, got %v", out["schemaVersion"])
	}
}

func TestWithContextSanitizes(t *testing.T) {
	e := New(CodeInternal, KindInternal, "op", "m")
	e2 := e.WithContext("offset", "should be dropped")
	if e2.Context != nil {
		t.Fatalf("expected shadowed key to be dropped entirely, got %v", e2.Context)
	}
	e3 := e2.WithContext("required", "128")
	if e3.Context["required"] != "128" {
		t.Fatalf("expected context to carry required=128")
	}
}
