package expr

import "testing"

func TestEvaluateSubstitutesValuePlaceholder(t *testing.T) {
	got := Evaluate("lower(%d)", "'HELLO'", "", "")
	if got != "lower('HELLO')" {
		t.Fatalf("want lower('HELLO'), got %q", got)
	}
}

func TestEvaluateSubstitutesGeometryPlaceholders(t *testing.T) {
	got := Evaluate("ST_GeomFromWKB(%1, %2)", "", "0101000000", "4326")
	if got != "ST_GeomFromWKB(0101000000, 4326)" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestIsGeometrySubObjectDetectsWKBKey(t *testing.T) {
	wkb, srid, ok := IsGeometrySubObject(map[string]interface{}{"wkb": "0101000000", "srid": float64(4326)})
	if !ok || wkb != "0101000000" || srid != "4326" {
		t.Fatalf("unexpected result: wkb=%q srid=%q ok=%v", wkb, srid, ok)
	}
}

func TestIsGeometrySubObjectMissesWithoutWKB(t *testing.T) {
	_, _, ok := IsGeometrySubObject(map[string]interface{}{"x": 1})
	if ok {
		t.Fatal("want no geometry detection without wkb key")
	}
}
