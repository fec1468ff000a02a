package geo

import "testing"

func TestParseWKTPolygon(t *testing.T) {
	poly, err := ParseWKT("POLYGON((0 0, 0 10, 10 10, 10 0, 0 0))")
	if err != nil {
		t.Fatalf("ParseWKT: %v", err)
	}
	if len(poly.Rings) != 1 || len(poly.Rings[0]) != 5 {
		t.Fatalf("unexpected ring shape: %+v", poly.Rings)
	}
}

func TestContains(t *testing.T) {
	poly, err := ParseWKT("POLYGON((0 0, 0 10, 10 10, 10 0, 0 0))")
	if err != nil {
		t.Fatalf("ParseWKT: %v", err)
	}
	if !poly.Contains(Point{Lon: 5, Lat: 5}) {
		t.Error("expected (5,5) to be inside polygon")
	}
	if poly.Contains(Point{Lon: 50, Lat: 50}) {
		t.Error("expected (50,50) to be outside polygon")
	}
}

func TestDistance(t *testing.T) {
	d := Distance(Point{Lon: 0, Lat: 0}, Point{Lon: 3, Lat: 4})
	if d != 5 {
		t.Errorf("expected distance 5, got %v", d)
	}
}

func TestWithin(t *testing.T) {
	a := Point{Lon: 34.05, Lat: -118.25}
	b := Point{Lon: 34.06, Lat: -118.25}
	if !Within(a, b, 0.1) {
		t.Error("expected points to be within radius")
	}
	if Within(a, b, 0.001) {
		t.Error("expected points to be outside tiny radius")
	}
}

func TestIntersectsSegment(t *testing.T) {
	poly, err := ParseWKT("POLYGON((5 -1, 5 1, 6 1, 6 -1, 5 -1))")
	if err != nil {
		t.Fatalf("ParseWKT: %v", err)
	}
	// Segment crossing straight through the polygon's longitude band.
	if !poly.IntersectsSegment(Point{Lon: 0, Lat: 0}, Point{Lon: 10, Lat: 0}) {
		t.Error("expected segment to intersect polygon")
	}
	// Segment well clear of the polygon.
	if poly.IntersectsSegment(Point{Lon: 0, Lat: 50}, Point{Lon: 10, Lat: 50}) {
		t.Error("expected segment not to intersect polygon")
	}
}

func TestMultiPolygon(t *testing.T) {
	poly, err := ParseWKT("MULTIPOLYGON(((0 0, 0 2, 2 2, 2 0, 0 0)), ((10 10, 10 12, 12 12, 12 10, 10 10)))")
	if err != nil {
		t.Fatalf("ParseWKT: %v", err)
	}
	if len(poly.Rings) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(poly.Rings))
	}
	if !poly.Contains(Point{Lon: 1, Lat: 1}) {
		t.Error("expected point inside first polygon")
	}
	if !poly.Contains(Point{Lon: 11, Lat: 11}) {
		t.Error("expected point inside second polygon")
	}
}

func TestParseWKTInvalid(t *testing.T) {
	if _, err := ParseWKT("POINT(0 0)"); err == nil {
		t.Error("expected error for unsupported geometry type")
	}
}
