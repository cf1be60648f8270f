package types

import "testing"

func TestValidateIDPresent(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in string
		ok bool
	}{
		{"a", true}, {"4f1c2e4a-8f7e-4a53-9d55-2c3d1b0a9e11", true}, {"", false}, {"   ", false},
	}
	for _, c := range cases {
		err := ValidateIDPresent(c.in, "conversationId")
		if c.ok && err != nil {
			t.Fatalf("expected ok for %q, got %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("expected error for %q", c.in)
		}
	}
}

func TestNormalizeMessage(t *testing.T) {
	t.Parallel()
	if got, ok := NormalizeMessage("  hi there \n"); !ok || got != "hi there" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if _, ok := NormalizeMessage(" \t "); ok {
		t.Fatal("expected blank message to be rejected")
	}
}
