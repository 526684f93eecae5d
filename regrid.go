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
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// HorizontalRemap conservatively regrids the dataset at input onto a
// global regular grid with nlon longitudes and nlat latitudes, writing
// the result to output. It requires the CDO program to be installed.
func HorizontalRemap(input, output string, nlon, nlat int) error {
	cdo, err := exec.LookPath("cdo")
	if err != nil {
		return fmt.Errorf("era5: horizontal remapping requires the CDO program: %v", err)
	}

	dir, err := os.MkdirTemp("", "era5-remap")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	grid := fmt.Sprintf("r%dx%d", nlon, nlat)
	weights := filepath.Join(dir, "weights.nc")

	log.Printf("era5: generating %s remapping weights for %s", grid, input)
	cmd := exec.Command(cdo, fmt.Sprintf("gencon,%s", grid), input, weights)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("era5: generating remapping weights for %s: %v: %s", input, err, out)
	}

	log.Printf("era5: remapping %s to %s", input, output)
	cmd = exec.Command(cdo, "-f", "nc4", fmt.Sprintf("remap,%s,%s", grid, weights), input, output)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("era5: remapping %s: %v: %s", input, err, out)
	}
	return nil
}
