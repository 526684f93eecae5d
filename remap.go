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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

const (
	// SigmaLevelDim is the name of the output vertical dimension.
	SigmaLevelDim = "sigma_level"

	// PressureVarName is the name of the output variable holding the
	// actual pressure realized at each sigma level and grid point.
	PressureVarName = "p"
)

// A VerticalRemapper interpolates data from fixed pressure levels onto a
// hybrid sigma-pressure grid whose level pressures follow the surface
// pressure: p = a + b*ps. It is immutable after construction and safe to
// share between remap calls on independent datasets.
type VerticalRemapper struct {
	a, b   []float64
	levels []int
	units  string
}

// NewVerticalRemapper creates a remapper from the hybrid coefficients a
// (pressure offsets, expressed in units) and b (surface pressure
// multipliers), with one output level per coefficient pair.
func NewVerticalRemapper(a, b []float64, units string) (*VerticalRemapper, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("era5: hybrid coefficient lengths differ: %d != %d", len(a), len(b))
	}
	return &VerticalRemapper{
		a:     append([]float64{}, a...),
		b:     append([]float64{}, b...),
		units: units,
	}, nil
}

// NewLevelMapRemapper creates a remapper whose coefficients a and b are
// given on half-levels. Each entry of levels selects the lower half-level
// of one output full level; the full-level pressure is the mean of the
// pressures at half-levels levels[i] and levels[i]+1.
func NewLevelMapRemapper(a, b []float64, units string, levels []int) (*VerticalRemapper, error) {
	r, err := NewVerticalRemapper(a, b, units)
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		if l < 0 || l+1 >= len(a) {
			return nil, fmt.Errorf("era5: level map entry %d out of range for %d half-levels", l, len(a))
		}
	}
	r.levels = append([]int{}, levels...)
	return r, nil
}

// Nz returns the number of output levels.
func (r *VerticalRemapper) Nz() int {
	if len(r.levels) > 0 {
		return len(r.levels)
	}
	return len(r.a)
}

// Pressure calculates the pressures that a column with the given surface
// pressure will be remapped to, expressed in the given units.
func (r *VerticalRemapper) Pressure(surfacePressure float64, units string, converter *UnitsConverter) ([]float64, error) {
	conv, err := converter.Convert(r.units, units)
	if err != nil {
		return nil, err
	}
	if len(r.levels) == 0 {
		p := make([]float64, len(r.a))
		for i := range r.a {
			p[i] = r.a[i]*conv + r.b[i]*surfacePressure
		}
		return p, nil
	}
	p := make([]float64, len(r.levels))
	for i, l := range r.levels {
		lower := r.a[l]*conv + r.b[l]*surfacePressure
		upper := r.a[l+1]*conv + r.b[l+1]*surfacePressure
		p[i] = (lower + upper) / 2
	}
	return p, nil
}

// interpolate evaluates the piecewise-linear interpolant through
// (x, y) at xq, returning fill outside the range of x. The x values must
// be sorted in increasing order.
func interpolate(x, y []float64, xq, fill float64) float64 {
	if len(x) == 0 || xq < x[0] || xq > x[len(x)-1] {
		return fill
	}
	j := sort.SearchFloat64s(x, xq)
	if x[j] == xq {
		return y[j]
	}
	frac := (xq - x[j-1]) / (x[j] - x[j-1])
	return y[j-1] + frac*(y[j]-y[j-1])
}

// RemapColumn interpolates one column of values, given at the pressures in
// pressures, onto the hybrid grid implied by the column's surface
// pressure. Queries outside the source pressure range evaluate to
// fillValue, representing the absence of data beyond the profile. It
// returns the pressures the column was remapped to along with the
// remapped values.
func (r *VerticalRemapper) RemapColumn(values, pressures []float64, surfacePressure float64, pressureUnits string, converter *UnitsConverter, fillValue float64) (targetPressures, targetValues []float64, err error) {
	if len(values) != len(pressures) {
		return nil, nil, fmt.Errorf("era5: column has %d values but %d pressures", len(values), len(pressures))
	}
	p, err := r.Pressure(surfacePressure, pressureUnits, converter)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float64, len(p))
	for i, xq := range p {
		out[i] = interpolate(pressures, values, xq, fillValue)
	}
	return p, out, nil
}

// levelColumn describes how a variable depends on a pressure coordinate.
type levelColumn struct {
	pressure []float64 // coordinate values, increasing
	units    string
	axis     int // position of the pressure dimension
}

// findPressureAxis returns the pressure coordinate information for v, or
// nil if v does not depend on exactly one of the registered pressure
// coordinates (other than itself).
func findPressureAxis(v *Variable, coords []*Variable, d *Dataset) (*levelColumn, error) {
	for _, coord := range coords {
		if coord.Name == v.Name {
			continue
		}
		for i, name := range v.Dims {
			if name != coord.Name {
				continue
			}
			data, err := d.ReadData(coord)
			if err != nil {
				return nil, err
			}
			units, ok := coord.Attribute("units").(string)
			if !ok {
				return nil, fmt.Errorf("era5: pressure coordinate %s has no units attribute", coord.Name)
			}
			return &levelColumn{
				pressure: append([]float64{}, data.Elements...),
				units:    units,
				axis:     i,
			}, nil
		}
	}
	return nil, nil
}

// An axisView adresses an n-dimensional array as a 2-d table of columns
// along one axis: index(col, k) is the flat position of the k'th element
// along the axis within the col'th column, where columns enumerate the
// remaining dimensions in row-major order.
type axisView struct {
	axisStride int
	rem        []int // lengths of the non-axis dimensions, in order
	remStrides []int
	cols       int
}

func newAxisView(shape []int, axis int) axisView {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	av := axisView{axisStride: strides[axis], cols: 1}
	for i, length := range shape {
		if i == axis {
			continue
		}
		av.rem = append(av.rem, length)
		av.remStrides = append(av.remStrides, strides[i])
		av.cols *= length
	}
	return av
}

func (av axisView) index(col, k int) int {
	idx := k * av.axisStride
	for i := len(av.rem) - 1; i >= 0; i-- {
		idx += (col % av.rem[i]) * av.remStrides[i]
		col /= av.rem[i]
	}
	return idx
}

// RemapAll remaps every variable in the dataset at levelPath that depends
// on a pressure coordinate, writing the result to a new dataset at
// outputPath. Variables without a pressure dimension are copied verbatim.
// The pressure dimension of remapped variables is replaced by a sigma
// level dimension, and a single shared variable named p is added giving
// the pressure realized at each sigma level and grid point. The dataset at
// surfacePath must hold the surface pressure under surfacePressureName;
// surfaceAliases maps level variable names to surface-level counterparts
// used as the surface sample of each column. Underground points, where the
// source pressure exceeds the local surface pressure, are excluded from
// the interpolation. The output is unusable if an error is returned.
func (r *VerticalRemapper) RemapAll(levelPath, surfacePath, outputPath, surfacePressureName string, surfaceAliases map[string]string, converter *UnitsConverter) (err error) {
	level, err := OpenDataset(levelPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := level.Close(); err == nil {
			err = cerr
		}
	}()
	surface, err := OpenDataset(surfacePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := surface.Close(); err == nil {
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

	pressureCoords := level.PressureCoordinates(converter)
	nz := r.Nz()
	addedP := false
	for _, v := range level.Variables() {
		// Coordinate variables are copied transitively when a dependent
		// variable needs them.
		if v.IsCoordinate() {
			continue
		}
		lc, err := findPressureAxis(v, pressureCoords, level)
		if err != nil {
			return err
		}
		if lc == nil {
			if _, err := out.CopyVariable(v, level); err != nil {
				return err
			}
			continue
		}

		names := append([]string{}, v.Dims...)
		names[lc.axis] = SigmaLevelDim

		// The first remappable variable creates the sigma coordinate and
		// the shared pressure variable.
		var pVar *Variable
		if !addedP {
			sigma, err := out.CreateCoordinate(SigmaLevelDim, nz, Int, nil)
			if err != nil {
				return err
			}
			sigma.Data = sparse.ZerosDense(nz)
			if nz == 1 {
				// floats.Span requires a destination of at least two elements.
				sigma.Data.Elements[0] = 1
			} else {
				floats.Span(sigma.Data.Elements, 1, float64(nz))
			}
		}
		for _, name := range names {
			if name == SigmaLevelDim {
				continue
			}
			if _, ok := out.Dimension(name); ok {
				continue
			}
			dim, ok := level.Dimension(name)
			if !ok {
				return fmt.Errorf("era5: no dimension named %s in %s", name, level.Path())
			}
			if _, err := out.CopyDimension(dim); err != nil {
				return err
			}
			if coord := level.Variable(name); coord != nil {
				if _, err := out.CopyVariable(coord, level); err != nil {
					return err
				}
			}
		}
		if !addedP {
			pVar, err = out.CreateVariable(PressureVarName, Double, names, map[string]interface{}{
				"units":         lc.units,
				"standard_name": "air_pressure",
			})
			if err != nil {
				return err
			}
			addedP = true
		}

		outV, err := out.CreateVariable(v.Name, v.Type, names, nil)
		if err != nil {
			return err
		}
		for _, a := range v.Attributes() {
			if a == FillValueAttr {
				continue
			}
			if err := out.CopyAttribute(v, a); err != nil {
				return err
			}
		}

		if err := r.remapVariable(v, lc, level, surface, surfacePressureName, surfaceAliases, converter, outV, pVar, out); err != nil {
			return err
		}
	}
	return nil
}

// remapVariable fills in the data for one remapped variable (and, for the
// first remapped variable, the shared pressure variable).
func (r *VerticalRemapper) remapVariable(v *Variable, lc *levelColumn, level, surface *Dataset, surfacePressureName string, surfaceAliases map[string]string, converter *UnitsConverter, outV, pVar *Variable, out *Dataset) error {
	// Surface-level counterpart of this variable, converted to its units.
	// Missing unit metadata disables the conversion.
	var svFlat []float64
	if alias, ok := surfaceAliases[v.Name]; ok {
		sv := surface.Variable(alias)
		if sv == nil {
			return fmt.Errorf("era5: no variable named %s in %s", alias, surface.Path())
		}
		conversion := 1.0
		svUnits, ok1 := sv.Attribute("units").(string)
		vUnits, ok2 := v.Attribute("units").(string)
		if ok1 && ok2 {
			var err error
			conversion, err = converter.Convert(svUnits, vUnits)
			if err != nil {
				return err
			}
		}
		svData, err := surface.ReadData(sv)
		if err != nil {
			return err
		}
		svFlat = make([]float64, len(svData.Elements))
		for i, e := range svData.Elements {
			svFlat[i] = e * conversion
		}
	}

	// Surface pressure in the units of the source pressure coordinate.
	spVar := surface.Variable(surfacePressureName)
	if spVar == nil {
		return fmt.Errorf("era5: no variable named %s in %s", surfacePressureName, surface.Path())
	}
	spUnits, ok := spVar.Attribute("units").(string)
	if !ok {
		return fmt.Errorf("era5: surface pressure variable %s has no units attribute", spVar.Name)
	}
	conversion, err := converter.Convert(spUnits, lc.units)
	if err != nil {
		return err
	}
	spData, err := surface.ReadData(spVar)
	if err != nil {
		return err
	}
	sp1d := make([]float64, len(spData.Elements))
	for i, e := range spData.Elements {
		sp1d[i] = e * conversion
	}

	data, err := level.ReadData(v)
	if err != nil {
		return err
	}
	src := newAxisView(data.Shape, lc.axis)
	if len(sp1d) != src.cols {
		return fmt.Errorf("era5: surface pressure has %d points but %s has %d columns",
			len(sp1d), v.Name, src.cols)
	}
	if svFlat != nil && len(svFlat) != src.cols {
		return fmt.Errorf("era5: surface variable for %s has %d points but %s has %d columns",
			v.Name, len(svFlat), v.Name, src.cols)
	}

	_, outShape, err := out.size(outV)
	if err != nil {
		return err
	}
	dst := newAxisView(outShape, lc.axis)
	y := sparse.ZerosDense(outShape...)
	var z *sparse.DenseArray
	if pVar != nil {
		z = sparse.ZerosDense(outShape...)
	}

	nz := r.Nz()
	column := make([]float64, 0, len(lc.pressure)+1)
	pcol := make([]float64, 0, len(lc.pressure)+1)
	for i := 0; i < src.cols; i++ {
		sp := sp1d[i]

		// Count of source levels strictly above ground; levels at higher
		// pressure than the surface are underground and excluded.
		n := sort.SearchFloat64s(lc.pressure, sp)

		column = column[:0]
		pcol = pcol[:0]
		for k := 0; k < n; k++ {
			column = append(column, data.Elements[src.index(i, k)])
			pcol = append(pcol, lc.pressure[k])
		}
		var xs float64
		switch {
		case svFlat != nil:
			xs = svFlat[i]
		case n > 0:
			xs = column[n-1]
		default:
			// Every source level is underground; the column degenerates to
			// a constant profile of the shallowest level's value.
			xs = data.Elements[src.index(i, 0)]
		}
		column = append(column, xs)
		pcol = append(pcol, sp)

		zi, yi, err := r.RemapColumn(column, pcol, sp, lc.units, converter, column[0])
		if err != nil {
			return err
		}
		for k := 0; k < nz; k++ {
			y.Elements[dst.index(i, k)] = yi[k]
			if z != nil {
				z.Elements[dst.index(i, k)] = zi[k]
			}
		}
	}
	outV.Data = y
	if pVar != nil {
		pVar.Data = z
	}
	return nil
}

// ERA-interim hybrid coefficients for the 37 standard pressure levels [hPa].
var (
	eraInterimA = []float64{0.96, 1.81, 2.35, 4.65, 5.76, 8.84, 16.81, 25.80, 49.07, 60.18, 87.65,
		103.76, 137.75, 153.80, 168.19, 180.45, 190.28, 197.55, 204.30, 203.84,
		195.84, 188.65, 179.61, 157.06, 144.11, 130.43, 116.33, 102.10,
		88.02, 74.38, 61.44, 49.42, 38.51, 28.88, 20.64, 8.55, 2.10}
	eraInterimB = []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0.00008, 0.00046,
		0.00508, 0.01114, 0.02068, 0.03412,
		0.05169, 0.07353, 0.13002, 0.16438, 0.24393, 0.28832, 0.33515, 0.43396,
		0.48477, 0.53571, 0.58617, 0.63555, 0.68327, 0.72879, 0.77160, 0.81125,
		0.84737, 0.87966, 0.90788, 0.95182, 0.97966}
)

// NewEraInterimRemapper creates a remapper configured with the ERA-interim
// hybrid coefficients.
func NewEraInterimRemapper() *VerticalRemapper {
	r, err := NewVerticalRemapper(eraInterimA, eraInterimB, "hPa")
	if err != nil {
		panic(err) // the tables are static and equal-length
	}
	return r
}
