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
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// FillValueAttr is the CF attribute holding a variable's fill value.
const FillValueAttr = "_FillValue"

// A DataType identifies the NetCDF storage type of a variable.
type DataType int

// The NetCDF classic data types.
const (
	Byte DataType = iota + 1
	Char
	Short
	Int
	Float
	Double
)

// zero returns a zeroed buffer of the slice type the cdf library uses for
// this data type.
func (t DataType) zero(n int) interface{} {
	switch t {
	case Byte:
		return make([]uint8, n)
	case Char:
		return strings.Repeat(" ", n)
	case Short:
		return make([]int16, n)
	case Int:
		return make([]int32, n)
	case Float:
		return make([]float32, n)
	case Double:
		return make([]float64, n)
	}
	panic(fmt.Sprintf("era5: invalid data type %d", t))
}

// dataTypeOf returns the DataType matching the dynamic type of a cdf
// value buffer.
func dataTypeOf(buf interface{}) (DataType, error) {
	switch buf.(type) {
	case []uint8:
		return Byte, nil
	case string:
		return Char, nil
	case []int16:
		return Short, nil
	case []int32:
		return Int, nil
	case []float32:
		return Float, nil
	case []float64:
		return Double, nil
	}
	return 0, fmt.Errorf("era5: invalid value buffer type %T", buf)
}

// A Dimension is a named axis length.
type Dimension struct {
	Name   string
	Length int
}

// A Variable is a named n-dimensional array with attributes. Its data are
// held as float64 regardless of the storage type, which is preserved
// separately for round-tripping.
type Variable struct {
	Name string
	Type DataType
	Dims []string

	attrNames []string
	attrs     map[string]interface{}

	// Data is nil until read from the backing file or filled by the caller.
	Data *sparse.DenseArray
}

// IsCoordinate reports whether this variable is a coordinate variable,
// i.e. it is indexed by a dimension of its own name.
func (v *Variable) IsCoordinate() bool {
	for _, d := range v.Dims {
		if d == v.Name {
			return true
		}
	}
	return false
}

// Attributes returns the variable's attribute names in declaration order.
func (v *Variable) Attributes() []string {
	return append([]string{}, v.attrNames...)
}

// Attribute returns the value of the named attribute, or nil if the
// variable does not have it. The returned value is of type string,
// []uint8, []int16, []int32, []float32 or []float64 and must not be
// modified.
func (v *Variable) Attribute(name string) interface{} {
	return v.attrs[name]
}

// SetAttribute sets an attribute, normalizing scalar numeric values to the
// single-element slices the NetCDF format stores.
func (v *Variable) SetAttribute(name string, value interface{}) {
	if _, ok := v.attrs[name]; !ok {
		v.attrNames = append(v.attrNames, name)
	}
	v.attrs[name] = normalizeAttr(value)
}

func normalizeAttr(value interface{}) interface{} {
	switch val := value.(type) {
	case int:
		return []int32{int32(val)}
	case int32:
		return []int32{val}
	case int16:
		return []int16{val}
	case float32:
		return []float32{val}
	case float64:
		return []float64{val}
	}
	return value
}

// attrFloat extracts a scalar float from a NetCDF attribute value.
func attrFloat(value interface{}) (float64, bool) {
	switch val := value.(type) {
	case []uint8:
		if len(val) == 1 {
			return float64(val[0]), true
		}
	case []int16:
		if len(val) == 1 {
			return float64(val[0]), true
		}
	case []int32:
		if len(val) == 1 {
			return float64(val[0]), true
		}
	case []float32:
		if len(val) == 1 {
			return float64(val[0]), true
		}
	case []float64:
		if len(val) == 1 {
			return float64(val[0]), true
		}
	}
	f, err := cast.ToFloat64E(value)
	return f, err == nil
}

// A DimensionConflictError indicates that a dimension being copied already
// exists in the destination dataset with a different size, meaning the two
// datasets are structurally incompatible.
type DimensionConflictError struct {
	Name       string
	Have, Want int
}

func (e *DimensionConflictError) Error() string {
	return fmt.Sprintf("era5: dimension %s already exists with size %d, not %d",
		e.Name, e.Have, e.Want)
}

// A Dataset is a collection of named dimensions and variables backed by a
// NetCDF classic file. A Dataset opened with OpenDataset is read-only; one
// created with CreateDataset accumulates its definition and data in memory
// and writes everything to the file when closed. Variables are traversed
// in declaration order, which is an explicit contract of this type.
type Dataset struct {
	path     string
	writable bool
	file     *os.File
	cf       *cdf.File

	dims []Dimension
	vars []*Variable
}

// OpenDataset opens the NetCDF file at path for reading.
func OpenDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("era5: opening dataset %s: %v", path, err)
	}
	d := &Dataset{path: path, file: f, cf: cf}

	// Materialize the record dimension, if any, to its current number of
	// records so that dimension sizes are always concrete.
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	nrecs := int(cf.Header.NumRecs(fi.Size()))
	names := cf.Header.Dimensions("")
	lengths := cf.Header.Lengths("")
	for i, name := range names {
		length := lengths[i]
		if length == 0 {
			length = nrecs
		}
		d.dims = append(d.dims, Dimension{Name: name, Length: length})
	}

	for _, name := range cf.Header.Variables() {
		t, err := dataTypeOf(cf.Header.ZeroValue(name, 0))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("era5: dataset %s variable %s: %v", path, name, err)
		}
		v := &Variable{
			Name:  name,
			Type:  t,
			Dims:  cf.Header.Dimensions(name),
			attrs: make(map[string]interface{}),
		}
		for _, a := range cf.Header.Attributes(name) {
			v.attrNames = append(v.attrNames, a)
			v.attrs[a] = cf.Header.GetAttribute(name, a)
		}
		d.vars = append(d.vars, v)
	}
	return d, nil
}

// CreateDataset creates the file at path and returns an empty writable
// dataset. The file contents are written when the dataset is closed.
func CreateDataset(path string) (*Dataset, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Dataset{path: path, writable: true, file: f}, nil
}

// Path returns the location of the backing file.
func (d *Dataset) Path() string { return d.path }

// Dimensions returns the dataset's dimensions in declaration order.
func (d *Dataset) Dimensions() []Dimension {
	return append([]Dimension{}, d.dims...)
}

// Dimension returns the named dimension.
func (d *Dataset) Dimension(name string) (Dimension, bool) {
	for _, dim := range d.dims {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dimension{}, false
}

// Variables returns the dataset's variables in declaration order.
func (d *Dataset) Variables() []*Variable {
	return append([]*Variable{}, d.vars...)
}

// Variable returns the named variable, or nil if it does not exist.
func (d *Dataset) Variable(name string) *Variable {
	for _, v := range d.vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// CreateDimension creates a new dimension.
func (d *Dataset) CreateDimension(name string, length int) (Dimension, error) {
	if !d.writable {
		return Dimension{}, fmt.Errorf("era5: dataset %s is not writable", d.path)
	}
	if _, ok := d.Dimension(name); ok {
		return Dimension{}, fmt.Errorf("era5: dimension %s already exists in %s", name, d.path)
	}
	dim := Dimension{Name: name, Length: length}
	d.dims = append(d.dims, dim)
	return dim, nil
}

// CreateCoordinate creates a dimension of the given length together with a
// same-named coordinate variable indexed by it.
func (d *Dataset) CreateCoordinate(name string, length int, t DataType, attrs map[string]interface{}) (*Variable, error) {
	if _, err := d.CreateDimension(name, length); err != nil {
		return nil, err
	}
	return d.CreateVariable(name, t, []string{name}, attrs)
}

// CreateVariable creates a new variable indexed by the named dimensions,
// which must already exist. Attributes given in attrs are set in sorted
// key order.
func (d *Dataset) CreateVariable(name string, t DataType, dims []string, attrs map[string]interface{}) (*Variable, error) {
	if !d.writable {
		return nil, fmt.Errorf("era5: dataset %s is not writable", d.path)
	}
	if d.Variable(name) != nil {
		return nil, fmt.Errorf("era5: variable %s already exists in %s", name, d.path)
	}
	for _, dim := range dims {
		if _, ok := d.Dimension(dim); !ok {
			return nil, fmt.Errorf("era5: variable %s: no dimension named %s in %s", name, dim, d.path)
		}
	}
	v := &Variable{
		Name:  name,
		Type:  t,
		Dims:  append([]string{}, dims...),
		attrs: make(map[string]interface{}),
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetAttribute(k, attrs[k])
	}
	d.vars = append(d.vars, v)
	return v, nil
}

// CopyAttribute copies a single attribute from a variable in another
// dataset onto this dataset's variable of the same name.
func (d *Dataset) CopyAttribute(src *Variable, name string) error {
	v := d.Variable(src.Name)
	if v == nil {
		return fmt.Errorf("era5: no variable named %s in %s", src.Name, d.path)
	}
	val := src.Attribute(name)
	if val == nil {
		return fmt.Errorf("era5: variable %s has no attribute %s", src.Name, name)
	}
	v.SetAttribute(name, val)
	return nil
}

// CopyDimension ensures a dimension with the name and size of dim exists
// in this dataset, creating it if absent. It reports whether the dimension
// was newly created, and fails with a DimensionConflictError if a
// dimension of the same name but a different size already exists.
func (d *Dataset) CopyDimension(dim Dimension) (created bool, err error) {
	if have, ok := d.Dimension(dim.Name); ok {
		if have.Length != dim.Length {
			return false, &DimensionConflictError{Name: dim.Name, Have: have.Length, Want: dim.Length}
		}
		return false, nil
	}
	_, err = d.CreateDimension(dim.Name, dim.Length)
	return err == nil, err
}

// CopyVariableMetadata replicates a variable's definition from another
// dataset: each dimension the variable depends on is copied if absent
// (along with its coordinate variable, recursively), and the variable is
// created with the same data type, dimensions and attributes. The fill
// value attribute, if present, is carried over unchanged. The new variable
// has no data; use CopyVariableData to fill it.
func (d *Dataset) CopyVariableMetadata(src *Variable, from *Dataset) (*Variable, error) {
	for _, name := range src.Dims {
		dim, ok := from.Dimension(name)
		if !ok {
			return nil, fmt.Errorf("era5: no dimension named %s in %s", name, from.path)
		}
		created, err := d.CopyDimension(dim)
		if err != nil {
			return nil, err
		}
		if created {
			if coord := from.Variable(name); coord != nil && coord != src {
				if _, err := d.CopyVariable(coord, from); err != nil {
					return nil, err
				}
			}
		}
	}
	v, err := d.CreateVariable(src.Name, src.Type, src.Dims, nil)
	if err != nil {
		return nil, err
	}
	if fill := src.Attribute(FillValueAttr); fill != nil {
		v.SetAttribute(FillValueAttr, fill)
	}
	for _, a := range src.Attributes() {
		if a == FillValueAttr {
			continue
		}
		if err := d.CopyAttribute(src, a); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// CopyVariableData copies the array contents of a variable in another
// dataset into this dataset's variable of the same name.
func (d *Dataset) CopyVariableData(src *Variable, from *Dataset) error {
	v := d.Variable(src.Name)
	if v == nil {
		return fmt.Errorf("era5: no variable named %s in %s", src.Name, d.path)
	}
	data, err := from.ReadData(src)
	if err != nil {
		return err
	}
	v.Data = data.Copy()
	return nil
}

// CopyVariable fully replicates a variable (metadata, dimension and
// coordinate dependencies, and data) from another dataset.
func (d *Dataset) CopyVariable(src *Variable, from *Dataset) (*Variable, error) {
	v, err := d.CopyVariableMetadata(src, from)
	if err != nil {
		return nil, err
	}
	if err := d.CopyVariableData(src, from); err != nil {
		return nil, err
	}
	return v, nil
}

// DimensionVariables returns the dataset's coordinate variables: one for
// each dimension that has a same-named variable, in dimension declaration
// order.
func (d *Dataset) DimensionVariables() []*Variable {
	var vars []*Variable
	for _, dim := range d.dims {
		if v := d.Variable(dim.Name); v != nil {
			vars = append(vars, v)
		}
	}
	return vars
}

// IsPressureCoordinate reports whether a variable's units attribute names
// a unit of dimensional type pressure.
func (d *Dataset) IsPressureCoordinate(v *Variable, c *UnitsConverter) bool {
	units, ok := v.Attribute("units").(string)
	if !ok {
		return false
	}
	dims, _, err := c.ToSI(units)
	if err != nil {
		return false
	}
	return dims.Matches(Pressure)
}

// PressureCoordinates returns the dataset's coordinate variables that are
// pressure coordinates.
func (d *Dataset) PressureCoordinates(c *UnitsConverter) []*Variable {
	var vars []*Variable
	for _, v := range d.DimensionVariables() {
		if d.IsPressureCoordinate(v, c) {
			vars = append(vars, v)
		}
	}
	return vars
}

// VerticalCoordinates returns the dataset's coordinate variables that are
// pressure coordinates, carry a "positive" attribute of up or down, or
// carry an "axis" attribute of Z. A variable satisfying more than one
// criterion appears once per criterion.
func (d *Dataset) VerticalCoordinates(c *UnitsConverter) []*Variable {
	var vars []*Variable
	for _, v := range d.DimensionVariables() {
		if d.IsPressureCoordinate(v, c) {
			vars = append(vars, v)
		}
		if positive, ok := v.Attribute("positive").(string); ok {
			switch strings.ToLower(positive) {
			case "up", "down":
				vars = append(vars, v)
			}
		}
		if axis, ok := v.Attribute("axis").(string); ok && axis == "Z" {
			vars = append(vars, v)
		}
	}
	return vars
}

// size returns the number of elements of a variable per its dimensions.
func (d *Dataset) size(v *Variable) (int, []int, error) {
	shape := make([]int, len(v.Dims))
	n := 1
	for i, name := range v.Dims {
		dim, ok := d.Dimension(name)
		if !ok {
			return 0, nil, fmt.Errorf("era5: variable %s: no dimension named %s in %s", v.Name, name, d.path)
		}
		shape[i] = dim.Length
		n *= dim.Length
	}
	return n, shape, nil
}

// ReadData returns the variable's data, reading it from the backing file
// on first use. The data of a scalar variable has shape [1].
func (d *Dataset) ReadData(v *Variable) (*sparse.DenseArray, error) {
	if v.Data != nil {
		return v.Data, nil
	}
	if d.cf == nil {
		return nil, fmt.Errorf("era5: variable %s in %s has no data", v.Name, d.path)
	}
	n, shape, err := d.size(v)
	if err != nil {
		return nil, err
	}
	start := make([]int, len(shape))
	r := d.cf.Reader(v.Name, start, shape)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("era5: reading variable %s from %s: %v", v.Name, d.path, err)
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	data := sparse.ZerosDense(shape...)
	switch buf := buf.(type) {
	case []uint8:
		for i, val := range buf {
			data.Elements[i] = float64(val)
		}
	case []int16:
		for i, val := range buf {
			data.Elements[i] = float64(val)
		}
	case []int32:
		for i, val := range buf {
			data.Elements[i] = float64(val)
		}
	case []float32:
		for i, val := range buf {
			data.Elements[i] = float64(val)
		}
	case []float64:
		copy(data.Elements, buf)
	default:
		return nil, fmt.Errorf("era5: variable %s has unsupported type for reading", v.Name)
	}
	v.Data = data
	return data, nil
}

// Close releases the dataset. For a writable dataset it first defines the
// NetCDF header and writes all dimension, attribute and variable data to
// the backing file; the file is closed in every case.
func (d *Dataset) Close() error {
	if d.file == nil {
		return nil
	}
	f := d.file
	d.file = nil
	if !d.writable {
		return f.Close()
	}
	err := d.flush(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *Dataset) flush(f *os.File) error {
	names := make([]string, len(d.dims))
	lengths := make([]int, len(d.dims))
	for i, dim := range d.dims {
		names[i] = dim.Name
		lengths[i] = dim.Length
	}
	h := cdf.NewHeader(names, lengths)
	for _, v := range d.vars {
		h.AddVariable(v.Name, v.Dims, v.Type.zero(1))
		for _, a := range v.attrNames {
			h.AddAttribute(v.Name, a, v.attrs[a])
		}
	}
	h.Define()
	cf, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("era5: writing dataset %s: %v", d.path, err)
	}
	for _, v := range d.vars {
		if err := d.writeVariable(cf, v); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(f)
}

func (d *Dataset) writeVariable(cf *cdf.File, v *Variable) error {
	n, shape, err := d.size(v)
	if err != nil {
		return err
	}
	data := v.Data
	if data == nil {
		data = sparse.ZerosDense(shape...)
	}
	if len(data.Elements) != n {
		return fmt.Errorf("era5: variable %s in %s: dims hold %d elements but array length is %d",
			v.Name, d.path, n, len(data.Elements))
	}
	var buf interface{}
	switch v.Type {
	case Byte:
		b := make([]uint8, n)
		for i, e := range data.Elements {
			b[i] = uint8(e)
		}
		buf = b
	case Short:
		b := make([]int16, n)
		for i, e := range data.Elements {
			b[i] = int16(e)
		}
		buf = b
	case Int:
		b := make([]int32, n)
		for i, e := range data.Elements {
			b[i] = int32(e)
		}
		buf = b
	case Float:
		b := make([]float32, n)
		for i, e := range data.Elements {
			b[i] = float32(e)
		}
		buf = b
	case Double:
		b := make([]float64, n)
		copy(b, data.Elements)
		buf = b
	default:
		return fmt.Errorf("era5: variable %s has unsupported type for writing", v.Name)
	}
	start := make([]int, len(shape))
	w := cf.Writer(v.Name, start, shape)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("era5: writing variable %s to %s: %v", v.Name, d.path, err)
	}
	return nil
}
