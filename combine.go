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
	"sort"
)

// Combine concatenates the datasets at paths along their record dimension
// into a single dataset at output, unpacking each input first so that
// variables packed with different scale factors can be concatenated. It
// requires the NCO programs ncpdq and ncrcat to be installed.
func Combine(paths []string, output string) error {
	ncpdq, err := exec.LookPath("ncpdq")
	if err != nil {
		return fmt.Errorf("era5: combining files requires the NCO program ncpdq: %v", err)
	}
	ncrcat, err := exec.LookPath("ncrcat")
	if err != nil {
		return fmt.Errorf("era5: combining files requires the NCO program ncrcat: %v", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("era5: no files to combine")
	}

	dir, err := os.MkdirTemp("", "era5-combine")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	unpacked := make([]string, len(paths))
	for i, path := range paths {
		log.Printf("era5: unpacking %s", path)
		unpacked[i] = filepath.Join(dir, filepath.Base(path))
		cmd := exec.Command(ncpdq, "--unpack", path, unpacked[i])
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("era5: unpacking %s: %v: %s", path, err, out)
		}
	}
	sort.Strings(unpacked)

	log.Printf("era5: concatenating %d files into %s", len(unpacked), output)
	cmd := exec.Command(ncrcat, append(unpacked, output)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("era5: concatenating into %s: %v: %s", output, err, out)
	}
	return nil
}
