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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRetrieve(t *testing.T) {
	const content = "netcdf bytes"
	var requested map[string]interface{}
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/resources/test-dataset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "1234" || pass != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&requested); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"state": "queued", "request_id": "r1"}`)
	})
	mux.HandleFunc("/tasks/r1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			fmt.Fprint(w, `{"state": "running", "request_id": "r1"}`)
			return
		}
		fmt.Fprint(w, `{"state": "completed", "request_id": "r1", "location": "/results/r1.nc"}`)
	})
	mux.HandleFunc("/results/r1.nc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, content)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{URL: srv.URL, Key: "1234:secret"}
	target := filepath.Join(t.TempDir(), "out.nc")
	request := map[string]interface{}{"format": "netcdf", "variable": []string{"temperature"}}
	if err := c.Retrieve("test-dataset", request, target); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("downloaded %q, want %q", got, content)
	}
	if requested["format"] != "netcdf" {
		t.Errorf("request = %v", requested)
	}
	if polls < 2 {
		t.Errorf("the request was polled %d times, want at least 2", polls)
	}
}

func TestRetrieveFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/resources/test-dataset", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state": "failed", "request_id": "r1",
			"error": {"message": "no such variable", "reason": "bad request"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{URL: srv.URL, Key: "1234:secret"}
	err := c.Retrieve("test-dataset", nil, filepath.Join(t.TempDir(), "out.nc"))
	if err == nil {
		t.Fatal("a failed request should return an error")
	}
	if !strings.Contains(err.Error(), "no such variable") {
		t.Errorf("error %q should carry the server's message", err)
	}
}

func TestNewClientMissingCredentials(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if _, err := NewClient(); err == nil {
		t.Fatal("a missing credentials file should fail")
	}
	err := os.WriteFile(filepath.Join(home, ".cdsapirc"),
		[]byte("url: https://example.com/api/v2\nkey: 1234:secret\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClient()
	if err != nil {
		t.Fatal(err)
	}
	if c.URL != "https://example.com/api/v2" || c.Key != "1234:secret" {
		t.Errorf("client = %+v", c)
	}
}
