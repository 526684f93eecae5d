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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// A Client submits retrieval requests to the Copernicus Climate Data
// Store (CDS) API and downloads their results.
type Client struct {
	// URL is the API root, for example
	// https://cds.climate.copernicus.eu/api/v2.
	URL string

	// Key is the API credential in uid:key form.
	Key string

	// HTTPClient is the HTTP client used for requests.
	// If it is nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// NewClient creates a Client with the URL and key from the credentials
// file $HOME/.cdsapirc, which holds "url:" and "key:" lines as described
// at https://cds.climate.copernicus.eu/api-how-to.
func NewClient() (*Client, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".cdsapirc")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("era5: reading CDS credentials: %v", err)
	}
	defer f.Close()

	c := new(Client)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "url:"):
			c.URL = strings.TrimSpace(strings.TrimPrefix(line, "url:"))
		case strings.HasPrefix(line, "key:"):
			c.Key = strings.TrimSpace(strings.TrimPrefix(line, "key:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if c.URL == "" || c.Key == "" {
		return nil, fmt.Errorf("era5: credentials file %s must contain url and key lines", path)
	}
	return c, nil
}

// task is the state of a CDS retrieval request.
type task struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Error     struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(method, url string, body io.Reader, out *task) error {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if i := strings.Index(c.Key, ":"); i >= 0 {
		req.SetBasicAuth(c.Key[:i], c.Key[i+1:])
	} else {
		req.SetBasicAuth("", c.Key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("era5: CDS request %s: %s: %s", url, resp.Status, b)
	}
	return json.Unmarshal(b, out)
}

// Retrieve submits a retrieval request for the dataset called name,
// waits for the CDS servers to finish processing it, and downloads the
// result to the file at target. Requests can spend a long time queued,
// so Retrieve may block for hours.
func (c *Client) Retrieve(name string, request map[string]interface{}, target string) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	log.Printf("era5: requesting %s", name)
	var t task
	if err := c.do(http.MethodPost, c.URL+"/resources/"+name, bytes.NewReader(body), &t); err != nil {
		return err
	}

	poll := backoff.NewExponentialBackOff()
	poll.MaxElapsedTime = 0 // Queued requests can outlast the default limit.
	err = backoff.RetryNotify(
		func() error {
			if t.State != "completed" && t.State != "failed" {
				if err := c.do(http.MethodGet, c.URL+"/tasks/"+t.RequestID, nil, &t); err != nil {
					return backoff.Permanent(err)
				}
			}
			switch t.State {
			case "completed":
				return nil
			case "failed":
				return backoff.Permanent(fmt.Errorf("era5: retrieving %s: %s: %s",
					name, t.Error.Message, t.Error.Reason))
			}
			return fmt.Errorf("era5: request %s is %s", t.RequestID, t.State)
		},
		poll,
		func(err error, d time.Duration) {
			log.Printf("%v: checking again in %v", err, d)
		},
	)
	if err != nil {
		return err
	}
	return c.download(t.Location, target)
}

func (c *Client) download(location, target string) error {
	if !strings.Contains(location, "://") {
		location = c.URL + "/" + strings.TrimPrefix(location, "/")
	}
	log.Printf("era5: downloading %s to %s", location, target)
	resp, err := c.httpClient().Get(location)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("era5: downloading %s: %s", location, resp.Status)
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// A product pairs the CDS dataset names for a reanalysis timescale.
type product struct {
	productType string
	levelName   string
	singleName  string
}

var products = map[string]product{
	"monthly": {
		productType: "monthly_averaged_reanalysis",
		levelName:   "reanalysis-era5-pressure-levels-monthly-means",
		singleName:  "reanalysis-era5-single-levels-monthly-means",
	},
	"hourly": {
		productType: "reanalysis",
		levelName:   "reanalysis-era5-pressure-levels",
		singleName:  "reanalysis-era5-single-levels",
	},
}

// levelVariables are the pressure-level variables needed for radiation
// calculations.
var levelVariables = []string{
	"ozone_mass_mixing_ratio", "specific_humidity", "temperature",
	"fraction_of_cloud_cover", "specific_cloud_ice_water_content",
	"specific_cloud_liquid_water_content",
}

// singleVariables are the surface and top-of-atmosphere variables needed
// for radiation calculations.
var singleVariables = []string{
	"near_ir_albedo_for_diffuse_radiation",
	"near_ir_albedo_for_direct_radiation",
	"skin_temperature",
	"surface_pressure",
	"toa_incident_solar_radiation",
	"uv_visible_albedo_for_diffuse_radiation",
	"uv_visible_albedo_for_direct_radiation",
	"2m_temperature",
	"mean_surface_downward_long_wave_radiation_flux_clear_sky",
	"mean_surface_downward_short_wave_radiation_flux_clear_sky",
	"mean_surface_net_long_wave_radiation_flux_clear_sky",
	"mean_surface_net_short_wave_radiation_flux_clear_sky",
	"mean_top_downward_short_wave_radiation_flux",
	"mean_top_net_long_wave_radiation_flux_clear_sky",
	"mean_top_net_short_wave_radiation_flux_clear_sky",
	"mean_surface_downward_long_wave_radiation_flux",
	"mean_surface_downward_short_wave_radiation_flux",
	"mean_surface_downward_uv_radiation_flux",
	"mean_surface_net_long_wave_radiation_flux",
	"mean_surface_net_short_wave_radiation_flux",
	"mean_top_net_long_wave_radiation_flux",
	"mean_top_net_short_wave_radiation_flux",
}

// pressureLevels are the 37 standard ERA5 pressure levels in hPa.
var pressureLevels = []int{
	1, 2, 3, 5, 7, 10, 20, 30, 50, 70, 100, 125, 150, 175, 200,
	225, 250, 300, 350, 400, 450, 500, 550, 600, 650, 700, 750,
	775, 800, 825, 850, 875, 900, 925, 950, 975, 1000,
}

func intRange(start, end int) []int {
	var o []int
	for i := start; i <= end; i++ {
		o = append(o, i)
	}
	return o
}

// Download retrieves the ERA5 reanalysis data needed for radiation
// calculations from the CDS, writing pressure-level data to levelOutput
// and single-level data to singleOutput. timescale must be "hourly" or
// "monthly". days and hours may be nil for monthly data; when hours is
// nil the 00:00 analysis is requested.
func (c *Client) Download(levelOutput, singleOutput, timescale string,
	startYear, endYear, startMonth, endMonth int, days, hours []int) error {
	p, ok := products[timescale]
	if !ok {
		return fmt.Errorf("era5: invalid timescale %s; must be hourly or monthly", timescale)
	}

	request := func(variables []string) map[string]interface{} {
		params := map[string]interface{}{
			"format":       "netcdf",
			"product_type": p.productType,
			"variable":     variables,
		}
		var years, months []string
		for _, y := range intRange(startYear, endYear) {
			years = append(years, fmt.Sprintf("%04d", y))
		}
		for _, m := range intRange(startMonth, endMonth) {
			months = append(months, fmt.Sprintf("%02d", m))
		}
		params["year"] = years
		params["month"] = months
		if days != nil {
			var d []string
			for _, x := range days {
				d = append(d, fmt.Sprintf("%02d", x))
			}
			params["day"] = d
		}
		if hours == nil {
			params["time"] = "00:00"
		} else {
			var t []string
			for _, x := range hours {
				t = append(t, fmt.Sprintf("%02d:00", x))
			}
			params["time"] = t
		}
		return params
	}

	levelRequest := request(levelVariables)
	var levels []string
	for _, l := range pressureLevels {
		levels = append(levels, fmt.Sprintf("%d", l))
	}
	levelRequest["pressure_level"] = levels
	if err := c.Retrieve(p.levelName, levelRequest, levelOutput); err != nil {
		return err
	}
	return c.Retrieve(p.singleName, request(singleVariables), singleOutput)
}
