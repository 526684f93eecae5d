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
	"math"
	"os"

	"github.com/ctessum/cdf"
)

// Mean clear-sky flux variables that are legitimately negative and must
// not be clipped.
var negativeSafe = []string{
	"msdwlwrfcs", "msdwswrfcs", "msnlwrfcs", "msnswrfcs",
	"mtdwswrf", "mtnlwrfcs", "mtnswrfcs",
}

// RemoveNegatives replaces negative values in the packed variables of the
// NetCDF file at path with the smallest representable positive value,
// in place. Dimension variables, the mean-flux variables that can be
// negative, and variables without packing attributes are left alone.
func RemoveNegatives(path string) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	// The file is rewritten in place, so a failed close loses data.
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	cf, err := cdf.Open(f)
	if err != nil {
		return fmt.Errorf("era5: opening dataset %s: %v", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	nrecs := int(cf.Header.NumRecs(fi.Size()))

	skip := make(map[string]bool)
	for _, name := range negativeSafe {
		skip[name] = true
	}
	for _, name := range cf.Header.Dimensions("") {
		skip[name] = true
	}

	for _, name := range cf.Header.Variables() {
		if skip[name] {
			continue
		}
		scale, ok := attrFloat(cf.Header.GetAttribute(name, "scale_factor"))
		if !ok {
			log.Printf("era5: %s: skipping unpacked variable %s", path, name)
			continue
		}
		offset, ok := attrFloat(cf.Header.GetAttribute(name, "add_offset"))
		if !ok {
			log.Printf("era5: %s: skipping unpacked variable %s", path, name)
			continue
		}

		lengths := append([]int{}, cf.Header.Lengths(name)...)
		n := 1
		for i, l := range lengths {
			if l == 0 {
				l = nrecs
				lengths[i] = l
			}
			n *= l
		}
		start := make([]int, len(lengths))
		r := cf.Reader(name, start, lengths)
		buf := r.Zero(n)
		if _, err := r.Read(buf); err != nil {
			return fmt.Errorf("era5: reading variable %s from %s: %v", name, path, err)
		}

		// A packed value p unpacks to scale*p + offset, so the smallest
		// positive representable value is one step above -offset/scale.
		threshold := -offset / scale
		replacement := math.Trunc(threshold) + 1

		changed := false
		switch buf := buf.(type) {
		case []int16:
			for i, p := range buf {
				if scale*float64(p)+offset < 0 {
					buf[i] = int16(replacement)
					changed = true
				}
			}
		case []int32:
			for i, p := range buf {
				if scale*float64(p)+offset < 0 {
					buf[i] = int32(replacement)
					changed = true
				}
			}
		case []float32:
			for i, p := range buf {
				if scale*float64(p)+offset < 0 {
					buf[i] = float32(replacement)
					changed = true
				}
			}
		case []float64:
			for i, p := range buf {
				if scale*p+offset < 0 {
					buf[i] = replacement
					changed = true
				}
			}
		default:
			return fmt.Errorf("era5: variable %s has unsupported type for rewriting", name)
		}
		if !changed {
			continue
		}
		w := cf.Writer(name, start, lengths)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("era5: writing variable %s to %s: %v", name, path, err)
		}
	}
	return nil
}
