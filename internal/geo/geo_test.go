package geo

import (
	"math"
	"testing"
)

func TestParseTuple(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Coordinate
		wantErr bool
	}{
		{
			name:  "lon lat",
			input: "-70.9,42.35",
			want:  Coordinate{Lng: -70.9, Lat: 42.35},
		},
		{
			name:  "lon lat elev",
			input: "2.2945,48.8584,324.5",
			want:  Coordinate{Lng: 2.2945, Lat: 48.8584, Elev: 324.5},
		},
		{
			name:  "surrounding whitespace",
			input: "  10,20  ",
			want:  Coordinate{Lng: 10, Lat: 20},
		},
		{
			name:    "single component",
			input:   "42.35",
			wantErr: true,
		},
		{
			name:    "non-numeric longitude",
			input:   "abc,42.35",
			wantErr: true,
		},
		{
			name:    "non-numeric elevation",
			input:   "1,2,xyz",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTuple(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseTupleList(t *testing.T) {
	coords, err := ParseTupleList("0,0,0 1,1,0\n2,2,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coords) != 3 {
		t.Fatalf("expected 3 coordinates, got %d", len(coords))
	}
	if coords[2].Lng != 2 || coords[2].Lat != 2 {
		t.Errorf("unexpected third coordinate: %+v", coords[2])
	}

	if _, err := ParseTupleList("   "); err == nil {
		t.Error("expected error for empty list")
	}
	if _, err := ParseTupleList("0,0 bad"); err == nil {
		t.Error("expected error for malformed tuple")
	}
}

func TestMercator3857(t *testing.T) {
	// Null island maps to the mercator origin.
	x, y := Mercator3857(0, 0)
	if math.Abs(x) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("expected origin, got %f,%f", x, y)
	}

	// 180 degrees maps to roughly 20037508 meters.
	x, _ = Mercator3857(180, 0)
	if math.Abs(x-20037508.34) > 1.0 {
		t.Errorf("expected ~20037508, got %f", x)
	}
}

func TestPoint3857From4326(t *testing.T) {
	pt := Point3857From4326(0, 0)
	coord, ok := pt.Coordinates()
	if !ok {
		t.Fatal("expected non-empty point")
	}
	if math.Abs(coord.XY.X) > 1e-6 || math.Abs(coord.XY.Y) > 1e-6 {
		t.Errorf("expected origin, got %+v", coord.XY)
	}
}
