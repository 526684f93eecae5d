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

// Command era5 is a command-line interface for the ERA5 preprocessor.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/era5/era5util"
)

func main() {
	if err := era5util.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
