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
	"time"

	"github.com/ctessum/sparse"
)

func TestParseTimeUnits(t *testing.T) {
	got, err := parseTimeUnits("days since 2020-01-01 00:00:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("epoch = %v, want %v", got, want)
	}
	if _, err := parseTimeUnits("hours since 2020-01-01 00:00:00"); err == nil {
		t.Error("an epoch in hours should not be accepted")
	}
}

func TestGatherSurfacePressure(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.nc")
	outputPath := filepath.Join(dir, "output.nc")

	// An input with three time steps: January 2020, February 2020, and
	// January 2021, for which no archive exists.
	in, err := CreateDataset(inputPath)
	if err != nil {
		t.Fatal(err)
	}
	tv, err := in.CreateCoordinate("time", 3, Int, map[string]interface{}{
		"units": "days since 2020-01-01 00:00:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	tv.Data = sparse.ZerosDense(3)
	copy(tv.Data.Elements, []float64{0, 31, 366})
	if err = in.Close(); err != nil {
		t.Fatal(err)
	}

	archive, err := CreateDataset(filepath.Join(dir, "2020-era5.nc"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = archive.CreateDimension("time", 12); err != nil {
		t.Fatal(err)
	}
	if _, err = archive.CreateDimension("lat", 2); err != nil {
		t.Fatal(err)
	}
	sp, err := archive.CreateVariable("sp", Double, []string{"time", "lat"},
		map[string]interface{}{"units": "Pa"})
	if err != nil {
		t.Fatal(err)
	}
	sp.Data = sparse.ZerosDense(12, 2)
	for m := 0; m < 12; m++ {
		for j := 0; j < 2; j++ {
			sp.Data.Set(float64(100*(m+1)+j), m, j)
		}
	}
	if err = archive.Close(); err != nil {
		t.Fatal(err)
	}

	if err := GatherSurfacePressure(inputPath, outputPath, dir, "sp"); err != nil {
		t.Fatal(err)
	}

	out, err := OpenDataset(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if dim, ok := out.Dimension("time"); !ok || dim.Length != 3 {
		t.Fatalf("time dimension = %+v", dim)
	}
	outSP := out.Variable("sp")
	if outSP == nil {
		t.Fatal("no variable named sp")
	}
	if units, _ := outSP.Attribute("units").(string); units != "Pa" {
		t.Errorf("sp units = %#v, want Pa", outSP.Attribute("units"))
	}
	data, err := out.ReadData(outSP)
	if err != nil {
		t.Fatal(err)
	}
	// The first two steps take the January and February 2020 slabs; the
	// third falls in a year with no archive and is left zero.
	want := []float64{100, 101, 200, 201, 0, 0}
	if !reflect.DeepEqual(data.Elements, want) {
		t.Errorf("sp = %v, want %v", data.Elements, want)
	}

	times, err := out.ReadData(out.Variable("time"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{0, 31, 366}; !reflect.DeepEqual(times.Elements, want) {
		t.Errorf("time = %v, want %v", times.Elements, want)
	}
}
