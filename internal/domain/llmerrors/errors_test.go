package llmerrors

import "testing"

func TestKind_String_TranslationIsDistinctFromCommandError(t *testing.T) {
	if got := Translation.String(); got != "translation_error" {
		t.Errorf("Translation.String() = %q, want %q", got, "translation_error")
	}
	if got := Translation.String(); got == "command_error" {
		t.Error("Translation must not share the command_error wire type")
	}
}

func TestError_WireTypeOrKind_FallsBackToKind(t *testing.T) {
	e := New(Validation, "bad request", "openai", "gpt-4o")
	if got := e.WireTypeOrKind(); got != "validation_error" {
		t.Errorf("WireTypeOrKind() = %q, want %q", got, "validation_error")
	}
}

func TestError_WireTypeOrKind_OverridesWhenSet(t *testing.T) {
	e := New(Validation, "command produced no response", "", "gpt-4o")
	e.WireType = "command_error"
	if got := e.WireTypeOrKind(); got != "command_error" {
		t.Errorf("WireTypeOrKind() = %q, want %q", got, "command_error")
	}
	if e.Kind.HTTPStatus() != 400 {
		t.Errorf("expected HTTP status to still follow Kind, got %d", e.Kind.HTTPStatus())
	}
}
