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

// Package rest exposes histogram equalization over HTTP.
package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/equalize"
	"github.com/mlnoga/histeq/internal/imageio"
	"github.com/mlnoga/histeq/internal/ops"
	"github.com/mlnoga/histeq/internal/report"
	"github.com/mlnoga/histeq/web"
)

// Multipart form field carrying an uploaded image
const formFileField = "image"

// Name assumed for raw request bodies without a name query parameter
const defaultUploadName = "upload.pgm"

type server struct {
	dev *device.Device
	log io.Writer
}

// Listens on addr and serves the API, equalizing on the given device
func Serve(addr string, d *device.Device, log io.Writer) error {
	fmt.Fprintf(log, "Serving on %s using %s\n", addr, d)
	return NewRouter(d, log).Run(addr)
}

// Returns the API routes, equalizing on the given device. Request logs go to log
func NewRouter(d *device.Device, log io.Writer) *gin.Engine {
	s := &server{dev: d, log: log}
	r := gin.New()
	r.Use(gin.LoggerWithWriter(log), gin.Recovery())
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/devices", s.getDevices)
			v1.POST("/histogram", s.postHistogram)
			v1.POST("/equalize", s.postEqualize)
			v1.POST("/equalize/batch", s.postBatch)
		}
	}
	return r
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func (s *server) getDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"devices":  device.ListDevices(),
		"selected": s.dev.ID,
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Query parameters of the single image endpoints
type equalizeArgs struct {
	Bins         int    `form:"bins"`
	Scan         string `form:"scan"`
	PerChannel   bool   `form:"perChannel"`
	OutputMax    uint32 `form:"outputMax"`
	MaxIntensity uint32 `form:"maxIntensity"`
	Name         string `form:"name"`   // file name of a raw body, selects the input format
	Format       string `form:"format"` // output format, defaults to the input format
}

func (a *equalizeArgs) config(log io.Writer) (equalize.Config, error) {
	cfg := equalize.DefaultConfig()
	if a.Bins != 0 {
		cfg.Bins = a.Bins
	}
	if a.Scan != "" {
		s, err := equalize.ParseScanStrategy(a.Scan)
		if err != nil {
			return cfg, err
		}
		cfg.Scan = s
	}
	cfg.PerChannel, cfg.OutputMax, cfg.MaxIntensity, cfg.Log = a.PerChannel, a.OutputMax, a.MaxIntensity, log
	return cfg, cfg.Validate()
}

// Maps request and pipeline errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, equalize.ErrInvalidBins),
		errors.Is(err, equalize.ErrUnknownScan),
		errors.Is(err, equalize.ErrInvalidOutputMax),
		errors.Is(err, equalize.ErrEmptyInput),
		errors.Is(err, imageio.ErrUnsupported):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Reads the uploaded image from a multipart form field, or from the raw request body
func readUpload(c *gin.Context, args *equalizeArgs, log io.Writer) (*imageio.Image, error) {
	if fh, err := c.FormFile(formFileField); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return imageio.Read(f, filepath.Base(fh.Filename), 0, log)
	}
	name := args.Name
	if name == "" {
		name = defaultUploadName
	}
	return imageio.Read(c.Request.Body, filepath.Base(name), 0, log)
}

// Parses arguments, reads the upload and equalizes it. On failure, the
// response is already written and the returned error is non-nil
func (s *server) equalizeUpload(c *gin.Context) (*equalizeArgs, *imageio.Image, *imageio.Image, []*equalize.Result, equalize.Config, error) {
	var args equalizeArgs
	if err := c.ShouldBindQuery(&args); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return nil, nil, nil, nil, equalize.Config{}, err
	}
	cfg, err := args.config(s.log)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return nil, nil, nil, nil, cfg, err
	}
	img, err := readUpload(c, &args, s.log)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, imageio.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		abortWithError(c, status, err)
		return nil, nil, nil, nil, cfg, err
	}
	out, results, err := equalize.NewEqualizer(device.NewQueue(s.dev), cfg).Equalize(img)
	if err != nil {
		abortWithError(c, statusOf(err), err)
		return nil, nil, nil, nil, cfg, err
	}
	return &args, img, out, results, cfg, nil
}

// Equalizes the uploaded image and returns the tables and statistics as JSON
func (s *server) postHistogram(c *gin.Context) {
	_, img, out, results, cfg, err := s.equalizeUpload(c)
	if err != nil {
		return
	}
	run := report.NewRun(cfg, results, ops.OutputHistograms(out, results), nil)
	run.FileName, run.Dimensions = img.FileName, img.DimensionsToString()
	c.JSON(http.StatusOK, run)
}

// Equalizes the uploaded image and returns the equalized image
func (s *server) postEqualize(c *gin.Context) {
	args, img, out, results, _, err := s.equalizeUpload(c)
	if err != nil {
		return
	}
	format := args.Format
	if format == "" {
		format = imageio.FormatOf(img.FileName)
	}
	fileName := "equalized." + format
	var buf bytes.Buffer
	if err := imageio.Write(&buf, out, fileName); err != nil {
		abortWithError(c, statusOf(err), err)
		return
	}

	var kernelTime int64
	for _, r := range results {
		kernelTime += r.KernelTime().Nanoseconds()
	}
	r := results[0]
	header := c.Writer.Header()
	header.Set("X-Histeq-Scan", r.Scan.String())
	header.Set("X-Histeq-Fallback", strconv.FormatBool(r.ScanFallback))
	header.Set("X-Histeq-Kernel-Ns", strconv.FormatInt(kernelTime, 10))
	contentType := mime.TypeByExtension("." + format)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

type postBatchArgs struct {
	Sequence *ops.OpSequence `json:"sequence"`
}

// Serializes writes of concurrently materialized promises into the response
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Runs an operator sequence on files below the working directory, streaming the log
func (s *server) postBatch(c *gin.Context) {
	var args postBatchArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Sequence == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing operator sequence"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := &lockedWriter{w: c.Writer}

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, s.dev)
	promises, err := args.Sequence.MakePromises(nil, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err = ops.MaterializeAll(promises, ctx.MaxThreads, true); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	ctx.Profile.WriteTo(logWriter)
	c.Writer.Flush()
}
