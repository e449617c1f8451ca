package permit

import "testing"

func TestCanonicalJSONSortsKeys(t *testing.T) {
	doc := map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
	}
	got, err := canonicalJSON(doc)
	if err != nil {
		t.Fatalf("canonicalJSON() error = %v", err)
	}
	want := `{"alpha":2,"zebra":1}`
	if got != want {
		t.Errorf("canonicalJSON() = %q, want %q", got, want)
	}
}

func TestCanonicalJSONIsDeterministicAcrossMapLiterals(t *testing.T) {
	a, _ := canonicalJSON(map[string]interface{}{"a": 1, "b": []interface{}{"x", "y"}, "c": true, "d": nil})
	b, _ := canonicalJSON(map[string]interface{}{"d": nil, "c": true, "b": []interface{}{"x", "y"}, "a": 1})
	if a != b {
		t.Errorf("expected identical output regardless of literal key order, got %q vs %q", a, b)
	}
}

func TestCanonicalJSONNoInsertedWhitespace(t *testing.T) {
	got, _ := canonicalJSON(map[string]interface{}{"a": []interface{}{1, 2, 3}})
	want := `{"a":[1,2,3]}`
	if got != want {
		t.Errorf("canonicalJSON() = %q, want %q", got, want)
	}
}

func TestCanonicalJSONEscapesStrings(t *testing.T) {
	got, _ := canonicalJSON(map[string]interface{}{"k": "has \"quotes\" and \\backslash"})
	want := `{"k":"has \"quotes\" and \\backslash"}`
	if got != want {
		t.Errorf("canonicalJSON() = %q, want %q", got, want)
	}
}
