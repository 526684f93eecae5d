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

// Package era5util provides a command-line interface for the ERA5
// preprocessor.
package era5util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/era5"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var logger *logrus.Logger

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	logger = logrus.StandardLogger()
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableSorting:  true,
	})

	// Options are the configuration options available to the preprocessor.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "SurfacePressureName",
			usage: `
              SurfacePressureName is the name of the surface pressure variable
              in single-level files.`,
			defaultVal: "sp",
			flagsets:   []*pflag.FlagSet{verticalRemapCmd.Flags(), surfacePressureCmd.Flags()},
		},
		{
			name: "SurfaceAliases",
			usage: `
              SurfaceAliases maps the names of variables on pressure levels to
              the names of corresponding single-level variables, whose values are
              used at the surface instead of extrapolating the lowest level
              downward. The default pairs temperature with 2-meter temperature.`,
			defaultVal: map[string]string{"t": "t2m"},
			flagsets:   []*pflag.FlagSet{verticalRemapCmd.Flags()},
		},
		{
			name: "Download.Timescale",
			usage: `
              Download.Timescale selects between "hourly" and "monthly"
              reanalysis products.`,
			defaultVal: "monthly",
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.StartYear",
			usage: `
              Download.StartYear is the first year of data to download.`,
			shorthand:  "y",
			defaultVal: 2016,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.EndYear",
			usage: `
              Download.EndYear is the last year of data to download.`,
			shorthand:  "Y",
			defaultVal: 2016,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.StartMonth",
			usage: `
              Download.StartMonth is the first month of data to download.`,
			shorthand:  "m",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.EndMonth",
			usage: `
              Download.EndMonth is the last month of data to download.`,
			shorthand:  "M",
			defaultVal: 12,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.Days",
			usage: `
              Download.Days lists the days of the month to download. It is
              ignored for monthly data; if it is empty for hourly data all
              days are included.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "Download.Hours",
			usage: `
              Download.Hours lists the hours of the day to download. If it is
              empty, the 00:00 analysis is requested.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "HorizontalRemap.Nlon",
			usage: `
              HorizontalRemap.Nlon is the number of longitude points in the
              regular grid that data is horizontally remapped to.`,
			defaultVal: 360,
			flagsets:   []*pflag.FlagSet{horizontalRemapCmd.Flags()},
		},
		{
			name: "HorizontalRemap.Nlat",
			usage: `
              HorizontalRemap.Nlat is the number of latitude points in the
              regular grid that data is horizontally remapped to.`,
			defaultVal: 181,
			flagsets:   []*pflag.FlagSet{horizontalRemapCmd.Flags()},
		},
		{
			name: "SurfacePressure.ArchiveDir",
			usage: `
              SurfacePressure.ArchiveDir is the directory holding yearly
              surface-pressure archive files named <year>-era5.nc.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{surfacePressureCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ERA5")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(downloadCmd)
	Root.AddCommand(combineCmd)
	Root.AddCommand(horizontalRemapCmd)
	Root.AddCommand(verticalRemapCmd)
	Root.AddCommand(removeNegativesCmd)
	Root.AddCommand(surfacePressureCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("era5: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// GetStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a json object
// if it was set from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "era5",
	Short: "A preprocessor for ERA5 reanalysis data.",
	Long: `era5 downloads ERA5 reanalysis data from the Copernicus Climate Data
Store and prepares it for use in radiation calculations: combining files,
remapping them to regular horizontal grids and to terrain-following vertical
coordinates, and removing spurious negative values.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'ERA5_var' where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of the ERA5 preprocessor.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("era5 v%s\n", era5.Version)
	},
	DisableAutoGenTag: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download [level output] [single output]",
	Short: "Download ERA5 data from the Copernicus Climate Data Store.",
	Long: `download retrieves the pressure-level and single-level variables needed
for radiation calculations. It requires a CDS account, with the associated
credentials in a file $HOME/.cdsapirc.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := era5.NewClient()
		if err != nil {
			return err
		}
		var days, hours []int
		if d, err := cast.ToIntSliceE(Cfg.Get("Download.Days")); err == nil && len(d) > 0 {
			days = d
		}
		if t, err := cast.ToIntSliceE(Cfg.Get("Download.Hours")); err == nil && len(t) > 0 {
			hours = t
		}
		logger.Infof("downloading ERA5 data to %s and %s", args[0], args[1])
		return client.Download(os.ExpandEnv(args[0]), os.ExpandEnv(args[1]),
			Cfg.GetString("Download.Timescale"),
			Cfg.GetInt("Download.StartYear"), Cfg.GetInt("Download.EndYear"),
			Cfg.GetInt("Download.StartMonth"), Cfg.GetInt("Download.EndMonth"),
			days, hours)
	},
	DisableAutoGenTag: true,
}

var combineCmd = &cobra.Command{
	Use:   "combine [inputs...] [output]",
	Short: "Concatenate datasets along their record dimension.",
	Long: `combine unpacks the input datasets and concatenates them into a single
output dataset. It requires the NCO programs ncpdq and ncrcat.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := make([]string, len(args)-1)
		for i, a := range args[:len(args)-1] {
			inputs[i] = os.ExpandEnv(a)
		}
		return era5.Combine(inputs, os.ExpandEnv(args[len(args)-1]))
	},
	DisableAutoGenTag: true,
}

var horizontalRemapCmd = &cobra.Command{
	Use:   "horizontal-remap [input] [output]",
	Short: "Remap a dataset to a regular horizontal grid.",
	Long: `horizontal-remap conservatively regrids the input dataset onto a global
regular latitude-longitude grid. It requires the CDO program.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return era5.HorizontalRemap(os.ExpandEnv(args[0]), os.ExpandEnv(args[1]),
			Cfg.GetInt("HorizontalRemap.Nlon"), Cfg.GetInt("HorizontalRemap.Nlat"))
	},
	DisableAutoGenTag: true,
}

var verticalRemapCmd = &cobra.Command{
	Use:   "vertical-remap [level file] [single file] [output]",
	Short: "Remap pressure-level data to terrain-following coordinates.",
	Long: `vertical-remap interpolates the variables in the level file from constant
pressure levels to hybrid sigma-pressure levels calculated from the surface
pressure in the single file, writing the result to the output file. Points
below the surface are replaced with single-level values where
SurfaceAliases provides them, and with the nearest above-ground value
otherwise.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Infof("vertically remapping %s to %s", args[0], args[2])
		return era5.NewEraInterimRemapper().RemapAll(
			os.ExpandEnv(args[0]), os.ExpandEnv(args[1]), os.ExpandEnv(args[2]),
			Cfg.GetString("SurfacePressureName"),
			GetStringMapString("SurfaceAliases", Cfg),
			era5.DefaultConverter())
	},
	DisableAutoGenTag: true,
}

var removeNegativesCmd = &cobra.Command{
	Use:   "remove-negatives [files...]",
	Short: "Replace negative values with the smallest positive value.",
	Long: `remove-negatives rewrites the packed variables in the given datasets in
place, replacing negative values with the smallest positive value
representable by each variable's packing. Variables that are legitimately
negative, like net flux means, are left alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			if err := era5.RemoveNegatives(os.ExpandEnv(arg)); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var surfacePressureCmd = &cobra.Command{
	Use:   "surface-pressure [input] [output]",
	Short: "Gather the surface pressures matching a dataset's times.",
	Long: `surface-pressure collects, from yearly archive files, the surface
pressure fields matching each time step of the input dataset and writes them
to a new output dataset for use with vertical-remap.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return era5.GatherSurfacePressure(os.ExpandEnv(args[0]), os.ExpandEnv(args[1]),
			os.ExpandEnv(Cfg.GetString("SurfacePressure.ArchiveDir")),
			Cfg.GetString("SurfacePressureName"))
	},
	DisableAutoGenTag: true,
}
