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
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/ctessum/sparse"
)

var timeUnitsRe = regexp.MustCompile(`days since ([0-9]+)-([0-9]+)-([0-9]+) ([0-9]+):([0-9]+):([0-9]+)`)

// parseTimeUnits extracts the epoch from a CF time units string of the
// form "days since YYYY-MM-DD hh:mm:ss".
func parseTimeUnits(units string) (time.Time, error) {
	m := timeUnitsRe.FindStringSubmatch(units)
	if m == nil {
		return time.Time{}, fmt.Errorf("era5: cannot parse time units %q", units)
	}
	v := make([]int, 6)
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC), nil
}

// GatherSurfacePressure collects the surface pressures matching every time
// step of the dataset at inputPath into a single new dataset at
// outputPath, so they can be used for vertical remapping. The pressures
// are taken from monthly-mean archive files named <year>-era5.nc under
// archiveDir, each holding one year of data indexed by month. Gathering
// stops cleanly at the first year with no archive file.
func GatherSurfacePressure(inputPath, outputPath, archiveDir, surfacePressureName string) (err error) {
	log.Println("era5: gathering surface pressures")
	in, err := OpenDataset(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := in.Close(); err == nil {
			err = cerr
		}
	}()
	out, err := CreateDataset(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	timeVar := in.Variable("time")
	if timeVar == nil {
		return fmt.Errorf("era5: no time variable in %s", inputPath)
	}
	units, ok := timeVar.Attribute("units").(string)
	if !ok {
		return fmt.Errorf("era5: time variable in %s has no units attribute", inputPath)
	}
	start, err := parseTimeUnits(units)
	if err != nil {
		return err
	}
	times, err := in.ReadData(timeVar)
	if err != nil {
		return err
	}

	newTime, err := out.CreateCoordinate("time", len(times.Elements), Int,
		map[string]interface{}{"units": units})
	if err != nil {
		return err
	}
	newTime.Data = times.Copy()

	var archive *Dataset
	var archivePath string
	defer func() {
		if archive != nil {
			if cerr := archive.Close(); err == nil {
				err = cerr
			}
		}
	}()

	var outSP *Variable
	var spData *sparse.DenseArray
	slabSize := 0
	for i, days := range times.Elements {
		current := start.AddDate(0, 0, int(days))
		path := filepath.Join(archiveDir, fmt.Sprintf("%d-era5.nc", current.Year()))
		if archive == nil || path != archivePath {
			if archive != nil {
				if err := archive.Close(); err != nil {
					archive = nil
					return err
				}
				archive = nil
			}
			a, err := OpenDataset(path)
			if err != nil {
				if os.IsNotExist(err) {
					log.Printf("era5: no archive for %d; stopping at time step %d", current.Year(), i)
					break
				}
				return err
			}
			log.Printf("era5: reading %s", path)
			archive, archivePath = a, path
		}
		sp := archive.Variable(surfacePressureName)
		if sp == nil {
			return fmt.Errorf("era5: no variable named %s in %s", surfacePressureName, path)
		}

		if outSP == nil {
			// The archive's surface pressure is indexed by month; the output
			// keeps the same trailing dimensions but uses the input's times.
			for _, name := range sp.Dims[1:] {
				dim, ok := archive.Dimension(name)
				if !ok {
					return fmt.Errorf("era5: no dimension named %s in %s", name, path)
				}
				if _, err := out.CopyDimension(dim); err != nil {
					return err
				}
			}
			dims := append([]string{"time"}, sp.Dims[1:]...)
			var attrs map[string]interface{}
			if u := sp.Attribute("units"); u != nil {
				attrs = map[string]interface{}{"units": u}
			}
			outSP, err = out.CreateVariable(surfacePressureName, sp.Type, dims, attrs)
			if err != nil {
				return err
			}
			shape := []int{len(times.Elements)}
			slabSize = 1
			for _, name := range sp.Dims[1:] {
				dim, _ := archive.Dimension(name)
				shape = append(shape, dim.Length)
				slabSize *= dim.Length
			}
			spData = sparse.ZerosDense(shape...)
			outSP.Data = spData
		}

		data, err := archive.ReadData(sp)
		if err != nil {
			return err
		}
		month := int(current.Month()) - 1
		copy(spData.Elements[i*slabSize:(i+1)*slabSize],
			data.Elements[month*slabSize:(month+1)*slabSize])
	}
	return nil
}
