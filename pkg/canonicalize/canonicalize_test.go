package canonicalize

import (
	"testing"
)

func TestJCSKeyOrdering(t *testing.T) {
	out, err := JCS(map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"alpha":2,"mid":3,"zeta":1}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]string{"url": "https://a.example/x?y=1&z=<2>"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"url":"https://a.example/x?y=1&z=<2>"}` {
		t.Fatalf("html escaping leaked into canonical form: %s", out)
	}
}

func TestCanonicalHashDeterministic(t *testing.T) {
	v := map[string]any{"b": []int{1, 2, 3}, "a": "x"}
	h1, err := CanonicalHash(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(map[string]any{"a": "x", "b": []int{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("equal values hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", h1)
	}
}
