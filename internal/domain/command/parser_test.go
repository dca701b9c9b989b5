package command

import (
	"reflect"
	"testing"
)

func TestParse_NoArgs(t *testing.T) {
	tokens := Parse("hello !/hello there", "!/")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Name != "hello" {
		t.Errorf("expected name %q, got %q", "hello", tokens[0].Name)
	}
	if len(tokens[0].Args) != 0 {
		t.Errorf("expected no args, got %v", tokens[0].Args)
	}
}

func TestParse_WithArgs(t *testing.T) {
	tokens := Parse(`please !/set(backend=openai, model="gpt-4o mini") thanks`, "!/")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	want := Args{"backend": "openai", "model": "gpt-4o mini"}
	if !reflect.DeepEqual(tokens[0].Args, want) {
		t.Errorf("args = %v, want %v", tokens[0].Args, want)
	}
}

func TestParse_MultipleLeftToRight(t *testing.T) {
	tokens := Parse("!/once(backend=a,model=b) then !/reasoning(mode=high)", "!/")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Name != "once" || tokens[1].Name != "reasoning" {
		t.Errorf("unexpected order: %+v", tokens)
	}
	if tokens[0].Start > tokens[1].Start {
		t.Errorf("tokens not left to right: %+v", tokens)
	}
}

func TestParse_UnterminatedParenIsNotArgs(t *testing.T) {
	tokens := Parse("!/hello(oops no close", "!/")
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Name != "hello" {
		t.Errorf("expected name hello, got %q", tokens[0].Name)
	}
	if len(tokens[0].Args) != 0 {
		t.Errorf("expected no args on unterminated paren, got %v", tokens[0].Args)
	}
}

func TestParse_EmptyPrefix(t *testing.T) {
	if tokens := Parse("!/hello", ""); tokens != nil {
		t.Errorf("expected nil tokens for empty prefix, got %v", tokens)
	}
}

func TestStrip_RemovesTokenSpansOnly(t *testing.T) {
	text := "before !/once(backend=a,model=b) after"
	tokens := Parse(text, "!/")
	got := Strip(text, tokens)
	want := "before  after"
	if got != want {
		t.Errorf("Strip() = %q, want %q", got, want)
	}
}

func TestSplitTopLevel_RespectsQuotes(t *testing.T) {
	parts := splitTopLevel(`a=1, b="x, y", c=3`, ',')
	want := []string{`a=1`, ` b="x, y"`, ` c=3`}
	if !reflect.DeepEqual(parts, want) {
		t.Errorf("splitTopLevel() = %v, want %v", parts, want)
	}
}
