// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/equalize"
	"github.com/mlnoga/histeq/internal/imageio"
	"github.com/mlnoga/histeq/internal/report"
)

const plainPGM = "P2\n8 1\n3\n0 1 2 3 0 1 2 3\n"

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(device.Default(), io.Discard)
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func rawPost(url, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	return req
}

func TestPing(t *testing.T) {
	w := do(newTestRouter(), httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping = %d %s; want 200 pong", w.Code, w.Body.String())
	}
}

func TestIndex(t *testing.T) {
	w := do(newTestRouter(), httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/equalize") {
		t.Errorf("index = %d; want 200 with upload form", w.Code)
	}
}

func TestDevices(t *testing.T) {
	w := do(newTestRouter(), httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", w.Code)
	}
	var got struct {
		Devices  []device.Device `json:"devices"`
		Selected int             `json:"selected"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Devices) != len(device.ListDevices()) || got.Selected != device.Default().ID {
		t.Errorf("devices %+v", got)
	}
}

func TestEqualizeRawBody(t *testing.T) {
	w := do(newTestRouter(), rawPost("/api/v1/equalize?bins=4&scan=simple&name=in.pgm", plainPGM))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d %s; want 200", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Histeq-Scan"); got != "simple" {
		t.Errorf("scan header %q; want simple", got)
	}
	if got := w.Header().Get("X-Histeq-Fallback"); got != "false" {
		t.Errorf("fallback header %q; want false", got)
	}
	img, err := imageio.ReadPNM(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{63, 127, 191, 255, 63, 127, 191, 255}
	if !bytes.Equal(img.Pix8, want) {
		t.Errorf("equalized %v; want %v", img.Pix8, want)
	}
}

func TestEqualizeMultipartFallback(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(formFileField, "in.pgm")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, plainPGM)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/equalize?bins=3&scan=blelloch&format=png", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(newTestRouter(), req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d %s; want 200", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Histeq-Scan"); got != "hillis_steele" {
		t.Errorf("scan header %q; want hillis_steele", got)
	}
	if got := w.Header().Get("X-Histeq-Fallback"); got != "true" {
		t.Errorf("fallback header %q; want true", got)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type %q; want image/png", got)
	}
	img, err := imageio.Read(w.Body, "out.png", 0, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if img.Width != 8 || img.Height != 1 {
		t.Errorf("decoded %s; want 8x1", img.DimensionsToString())
	}
}

func TestHistogram(t *testing.T) {
	w := do(newTestRouter(), rawPost("/api/v1/histogram?bins=4&name=in.pgm", plainPGM))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d %s; want 200", w.Code, w.Body.String())
	}
	var run report.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != 1 {
		t.Fatalf("%d results; want 1", len(run.Results))
	}
	r := run.Results[0]
	if r.Scan != equalize.ScanBlelloch {
		t.Errorf("scan %s; want blelloch", r.Scan)
	}
	for i, want := range []uint32{2, 4, 6, 8} {
		if r.Cumulative[i] != want {
			t.Errorf("C[%d] = %d; want %d", i, r.Cumulative[i], want)
		}
	}
	if len(run.Before) != 1 || run.Before[0].Samples != 8 {
		t.Errorf("before stats %+v; want 8 samples", run.Before)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		url, body string
	}{
		{"/api/v1/equalize?bins=-1&name=in.pgm", plainPGM},
		{"/api/v1/equalize?scan=quick&name=in.pgm", plainPGM},
		{"/api/v1/equalize?bins=abc", plainPGM},
		{"/api/v1/equalize?name=in.xyz", plainPGM},
		{"/api/v1/equalize?name=in.pgm", "P7\n"},
		{"/api/v1/histogram?outputMax=1000&name=in.pgm", plainPGM},
		{"/api/v1/equalize/batch", "{"},
		{"/api/v1/equalize/batch", "{}"},
	}
	r := newTestRouter()
	for _, tt := range tests {
		w := do(r, rawPost(tt.url, tt.body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d %s; want 400", tt.url, w.Code, w.Body.String())
		}
	}
}

func TestForgedHeaderUpload(t *testing.T) {
	w := do(newTestRouter(), rawPost("/api/v1/equalize?name=in.pgm", "P5\n60000 60000\n65535\n\x00\x01"))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d %s; want 413", w.Code, w.Body.String())
	}
	w = do(newTestRouter(), rawPost("/api/v1/equalize?name=in.pgm", "P5\n1000 1000\n255\n\x00\x01"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("truncated upload: status %d %s; want 400", w.Code, w.Body.String())
	}
}

func TestBatch(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	const files = 16
	for i := 0; i < files; i++ {
		if err := os.WriteFile(fmt.Sprintf("in%02d.pgm", i), []byte(plainPGM), 0644); err != nil {
			t.Fatal(err)
		}
	}

	body := `{"sequence":{"type":"seq","active":true,"steps":[
		{"type":"loadMany","active":true,"filePatterns":["*.pgm"]},
		{"type":"forEach","active":true,"operation":{"type":"equalize","active":true,"bins":4,"scan":"hillis_steele"}},
		{"type":"save","active":true,"filePattern":"eq%d.png"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/equalize/batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := do(newTestRouter(), req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d %s; want 200", w.Code, w.Body.String())
	}
	log := w.Body.String()
	for _, want := range []string{"Arguments:", "Found 16 files.", "hillis_steele scan", "Writing", "Kernel execution time"} {
		if !strings.Contains(log, want) {
			t.Errorf("log lacks %q:\n%s", want, log)
		}
	}
	if strings.Contains(log, "error:") {
		t.Errorf("log reports an error:\n%s", log)
	}
	if n := strings.Count(log, "Loaded "); n != files {
		t.Errorf("log has %d load lines; want %d", n, files)
	}
	if n := strings.Count(log, "hillis_steele scan, 0 padding"); n != files {
		t.Errorf("log has %d intact equalize lines; want %d:\n%s", n, files, log)
	}
	for i := 0; i < files; i++ {
		if _, err := os.Stat(fmt.Sprintf("eq%d.png", i)); err != nil {
			t.Errorf("missing output: %v", err)
		}
	}
}
