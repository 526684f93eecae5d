/*
Copyright © 2019 the InMAP authors.
This file is part of the InMAP ERA5 preprocessor.

The InMAP ERA5 preprocessor is free software: you can redistribute it and/or
modify it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

The InMAP ERA5 preprocessor is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License along with
the InMAP ERA5 preprocessor.  If not, see <http://www.gnu.org/licenses/>.
*/

package era5

import (
	"math"
	"testing"
)

func TestConvertIdentity(t *testing.T) {
	c := DefaultConverter()
	for _, units := range []string{"Pa", "hPa", "mb", "millibar", "bar", "decibar",
		"atm", "atmosphere", "m", "meter", "K"} {
		factor, err := c.Convert(units, units)
		if err != nil {
			t.Fatalf("%s: %v", units, err)
		}
		if factor != 1 {
			t.Errorf("%s: factor = %g, want 1", units, factor)
		}
	}
}

func TestConvert(t *testing.T) {
	const tolerance = 1.0e-12
	tests := []struct {
		source, destination string
		factor              float64
	}{
		{"hPa", "Pa", 100},
		{"Pa", "hPa", 0.01},
		{"mb", "Pa", 100},
		{"Millibars", "Pa", 100},
		{"atm", "Pa", 101325},
		{"bar", "hPa", 1000},
		{"decibars", "Pa", 10000},
		{"meters", "m", 1},
		{"atm", "hPa", 1013.25},
	}
	c := DefaultConverter()
	for _, test := range tests {
		factor, err := c.Convert(test.source, test.destination)
		if err != nil {
			t.Fatalf("%s to %s: %v", test.source, test.destination, err)
		}
		if math.Abs(factor-test.factor)/test.factor > tolerance {
			t.Errorf("%s to %s: factor = %g, want %g",
				test.source, test.destination, factor, test.factor)
		}
	}
}

func TestConvertIncompatible(t *testing.T) {
	c := DefaultConverter()
	_, err := c.Convert("K", "Pa")
	if err == nil {
		t.Fatal("converting K to Pa should fail")
	}
	if _, ok := err.(*UnitsError); !ok {
		t.Errorf("error has type %T, want *UnitsError", err)
	}
}

func TestConvertUnknownUnits(t *testing.T) {
	c := DefaultConverter()
	for _, units := range []string{"furlong", "", "hPa extra", "k"} {
		if _, err := c.Convert(units, "Pa"); err == nil {
			t.Errorf("converting %q should fail", units)
		}
		if _, err := c.Convert("Pa", units); err == nil {
			t.Errorf("converting to %q should fail", units)
		}
	}
}

func TestPartialMatchRejected(t *testing.T) {
	// Patterns must match the entire unit string, so a unit embedded in a
	// longer string is not recognized.
	c := DefaultConverter()
	for _, units := range []string{"hPa/s", "Kelvin", "mbar2"} {
		if _, _, err := c.ToSI(units); err == nil {
			t.Errorf("%q should not be recognized", units)
		}
	}
}

func TestDimensionAlgebra(t *testing.T) {
	if !CombineDims(Pressure, Area).Matches(Force) {
		t.Error("pressure times area should match force")
	}
	if !DivideDims(Volume, Distance).Matches(Area) {
		t.Error("volume divided by distance should match area")
	}
	if Pressure.Matches(Temperature) {
		t.Error("pressure should not match temperature")
	}
	if d := CombineDims(Velocity, Time); !d.Matches(Distance) {
		t.Errorf("velocity times time = %v, want to match distance", d)
	}
}
