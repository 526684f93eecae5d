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
	"regexp"

	"github.com/ctessum/unit"
)

// MoleDim is the base dimension for amount of substance, which
// github.com/ctessum/unit does not predefine. The symbol "mol" is
// reserved there, so the full word is used.
var MoleDim = unit.NewDimension("mole")

// Base dimensional types.
var (
	Current     = unit.Dimensions{unit.CurrentDim: 1}
	Distance    = unit.Dimensions{unit.LengthDim: 1}
	Intensity   = unit.Dimensions{unit.LuminousIntensityDim: 1}
	Mass        = unit.Dimensions{unit.MassDim: 1}
	Mole        = unit.Dimensions{MoleDim: 1}
	Temperature = unit.Dimensions{unit.TemperatureDim: 1}
	Time        = unit.Dimensions{unit.TimeDim: 1}
)

// Derived dimensional types.
var (
	Velocity     = DivideDims(Distance, Time)
	Acceleration = DivideDims(Velocity, Time)
	Force        = CombineDims(Mass, Acceleration)
	Area         = CombineDims(Distance, Distance)
	Volume       = CombineDims(Area, Distance)
	Pressure     = DivideDims(Force, Area)
)

// CombineDims multiplies two dimensional types, adding their
// exponents component-wise.
func CombineDims(a, b unit.Dimensions) unit.Dimensions {
	o := make(unit.Dimensions)
	for d, p := range a {
		o[d] = p
	}
	for d, p := range b {
		o[d] += p
		if o[d] == 0 {
			delete(o, d)
		}
	}
	return o
}

// DivideDims divides dimensional type a by b, subtracting the
// exponents of b component-wise.
func DivideDims(a, b unit.Dimensions) unit.Dimensions {
	o := make(unit.Dimensions)
	for d, p := range a {
		o[d] = p
	}
	for d, p := range b {
		o[d] -= p
		if o[d] == 0 {
			delete(o, d)
		}
	}
	return o
}

// UnitsError is returned when a unit string is not present in a converter's
// registry or when two units are dimensionally incompatible.
type UnitsError struct {
	msg string
}

func (e *UnitsError) Error() string { return e.msg }

// A Conversion relates all unit strings matching a regular expression to
// a dimensional type and a factor for converting to SI units.
type Conversion struct {
	re     *regexp.Regexp
	factor float64
	dims   unit.Dimensions
}

// NewConversion creates a Conversion from pattern, which must match the
// entire unit string, the factor to convert a matching unit to SI units,
// and the unit's dimensional type.
func NewConversion(pattern string, factor float64, dims unit.Dimensions) Conversion {
	return Conversion{
		re:     regexp.MustCompile("^(?:" + pattern + ")$"),
		factor: factor,
		dims:   dims,
	}
}

// DefaultConversions returns the conversion registry for the units that
// appear in ERA5 reanalysis files. The registry is scanned in order, so
// more specific patterns come before the ones they would otherwise
// shadow.
func DefaultConversions() []Conversion {
	return []Conversion{
		NewConversion(`m|[Mm]eter(s)?`, 1, Distance),
		NewConversion(`atm|[Aa]tmosphere(s)?`, 101325, Pressure),
		NewConversion(`[Bb]ar(s)?`, 100000, Pressure),
		NewConversion(`([Dd]eci)bar(s)?`, 10000, Pressure),
		NewConversion(`hPa|mb|([Mm]|[Mm]illi)bar(s)?`, 100, Pressure),
		NewConversion(`Pa|[Pp]ascal(s)?`, 1, Pressure),
		NewConversion(`K`, 1, Temperature),
	}
}

// A UnitsConverter calculates conversion factors between unit strings.
// The zero value is not usable; create one with NewUnitsConverter.
// Converters are immutable and may be shared between goroutines.
type UnitsConverter struct {
	units []Conversion
}

// NewUnitsConverter creates a converter holding the given conversion
// registry.
func NewUnitsConverter(units []Conversion) *UnitsConverter {
	return &UnitsConverter{units: units}
}

// DefaultConverter creates a converter holding DefaultConversions.
func DefaultConverter() *UnitsConverter {
	return NewUnitsConverter(DefaultConversions())
}

// ToSI returns the dimensional type of units and the factor for converting
// a value in units to SI units.
func (c *UnitsConverter) ToSI(units string) (unit.Dimensions, float64, error) {
	for _, u := range c.units {
		if u.re.MatchString(units) {
			return u.dims, u.factor, nil
		}
	}
	return nil, 0, &UnitsError{msg: fmt.Sprintf("era5: %s not found in converter", units)}
}

// FromSI returns the dimensional type of units and the factor for
// converting a value in SI units to units.
func (c *UnitsConverter) FromSI(units string) (unit.Dimensions, float64, error) {
	dims, factor, err := c.ToSI(units)
	if err != nil {
		return nil, 0, err
	}
	return dims, 1 / factor, nil
}

// Convert returns the factor for converting a value in the source units to
// the destination units. It returns a UnitsError if either unit string is
// not in the registry or if the two are dimensionally incompatible.
func (c *UnitsConverter) Convert(source, destination string) (float64, error) {
	dims1, toSI, err := c.ToSI(source)
	if err != nil {
		return 0, err
	}
	dims2, fromSI, err := c.FromSI(destination)
	if err != nil {
		return 0, err
	}
	if !dims1.Matches(dims2) {
		return 0, &UnitsError{msg: fmt.Sprintf("era5: cannot convert %s to %s", source, destination)}
	}
	return toSI * fromSI, nil
}
