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
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func TestRemoveNegatives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	d, err := CreateDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = d.CreateDimension("x", 4); err != nil {
		t.Fatal(err)
	}
	// Packed values unpack to scale*p + offset = 0.1*p - 5, so packed
	// values below 50 represent negative data and 51 is the smallest
	// positive representable value.
	packed, err := d.CreateVariable("q", Short, []string{"x"}, map[string]interface{}{
		"scale_factor": float64(0.1),
		"add_offset":   float64(-5),
	})
	if err != nil {
		t.Fatal(err)
	}
	packed.Data = sparse.ZerosDense(4)
	copy(packed.Data.Elements, []float64{-100, 49, 50, 60})

	// A variable on the blacklist keeps its negative values.
	flux, err := d.CreateVariable("mtdwswrf", Short, []string{"x"}, map[string]interface{}{
		"scale_factor": float64(0.1),
		"add_offset":   float64(-5),
	})
	if err != nil {
		t.Fatal(err)
	}
	flux.Data = sparse.ZerosDense(4)
	copy(flux.Data.Elements, []float64{-100, 49, 50, 60})

	// A variable without packing attributes is skipped.
	raw, err := d.CreateVariable("u", Double, []string{"x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw.Data = sparse.ZerosDense(4)
	copy(raw.Data.Elements, []float64{-1, 0, 1, 2})

	if err = d.Close(); err != nil {
		t.Fatal(err)
	}

	if err := RemoveNegatives(path); err != nil {
		t.Fatal(err)
	}

	out, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	read := func(name string) []float64 {
		data, err := out.ReadData(out.Variable(name))
		if err != nil {
			t.Fatal(err)
		}
		return data.Elements
	}
	if got := read("q"); !reflect.DeepEqual(got, []float64{51, 51, 50, 60}) {
		t.Errorf("q = %v, want [51 51 50 60]", got)
	}
	if got := read("mtdwswrf"); !reflect.DeepEqual(got, []float64{-100, 49, 50, 60}) {
		t.Errorf("mtdwswrf = %v, want [-100 49 50 60]", got)
	}
	if got := read("u"); !reflect.DeepEqual(got, []float64{-1, 0, 1, 2}) {
		t.Errorf("u = %v, want [-1 0 1 2]", got)
	}
}
