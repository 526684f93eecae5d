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
	"strings"
	"testing"
)

func TestCombineMissingNCO(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	err := Combine([]string{"a.nc", "b.nc"}, "out.nc")
	if err == nil {
		t.Fatal("combining without NCO installed should fail")
	}
	if !strings.Contains(err.Error(), "ncpdq") {
		t.Errorf("error %q should name the missing program", err)
	}
}

func TestHorizontalRemapMissingCDO(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	err := HorizontalRemap("in.nc", "out.nc", 360, 181)
	if err == nil {
		t.Fatal("remapping without CDO installed should fail")
	}
	if !strings.Contains(err.Error(), "CDO") {
		t.Errorf("error %q should name the missing program", err)
	}
}
