// segclient talks to the segmentation server: health and model checks,
// single predictions saved as PNG files, and batch statistics.
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/predict"
)

const usage = `usage: segclient [flags] <command> [args]

commands:
  health              server health and model status
  info                model information
  predict <image>     segment one image and save overlay and mask PNGs
  batch <image>...    tumor statistics for up to 10 images
`

type apiError struct {
	Detail string `json:"detail"`
}

type client struct {
	http   *resty.Client
	outDir string
}

func main() {
	var server, outDir string
	var timeout time.Duration
	var verbose bool
	flag.StringVar(&server, "server", "http://localhost:8000", "segmentation server URL")
	flag.StringVar(&outDir, "out", ".", "directory for predicted images")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	flag.BoolVar(&verbose, "verbose", false, "verbose output")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	c := &client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(server, "/")).
			SetTimeout(timeout).
			SetError(&apiError{}),
		outDir: outDir,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	var err error
	switch args[0] {
	case "health":
		err = c.get("/health")
	case "info":
		err = c.get("/model-info")
	case "predict":
		if len(args) != 2 {
			err = errors.New("predict needs exactly one image")
			break
		}
		err = c.predict(args[1])
	case "batch":
		err = c.batch(args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("[Client] %v", err)
		os.Exit(1)
	}
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Detail != "" {
		return fmt.Errorf("%s: %s", resp.Status(), e.Detail)
	}
	return fmt.Errorf("%s: %s", resp.Status(), resp.String())
}

func (c *client) get(path string) error {
	resp, err := c.http.R().Get(path)
	if err != nil {
		return err
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func contentType(fname string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fname))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (c *client) predict(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	var res predict.Result
	start := time.Now()
	resp, err := c.http.R().
		SetMultipartField("file", filepath.Base(fname), contentType(fname), f).
		SetResult(&res).
		Post("/predict")
	if err != nil {
		return err
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	log.WithField("elapsed", time.Since(start).String()).Debug("[Client] Prediction received")

	base := strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname))
	overlay := filepath.Join(c.outDir, base+"_segmented.png")
	mask := filepath.Join(c.outDir, base+"_mask.png")
	if err := saveImage(overlay, res.SegmentedImage); err != nil {
		return err
	}
	if err := saveImage(mask, res.Mask); err != nil {
		return err
	}

	fmt.Printf("%s: tumor %d/%d pixels (%.2f%%), original %dx%d\n",
		fname, res.TumorPixels, res.TotalPixels, res.TumorPercentage,
		res.OriginalSize[0], res.OriginalSize[1])
	fmt.Printf("saved %s and %s\n", overlay, mask)
	return nil
}

func saveImage(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid image in response: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *client) batch(fnames []string) error {
	if len(fnames) == 0 {
		return errors.New("batch needs at least one image")
	}
	req := c.http.R()
	for _, fname := range fnames {
		f, err := os.Open(fname)
		if err != nil {
			return err
		}
		defer f.Close()
		req.SetMultipartField("files", filepath.Base(fname), contentType(fname), f)
	}

	var res predict.BatchResult
	resp, err := req.SetResult(&res).Post("/batch-predict")
	if err != nil {
		return err
	}
	if err := checkResponse(resp); err != nil {
		return err
	}

	for _, item := range res.Results {
		if !item.Success {
			fmt.Printf("%-30s failed: %s\n", item.Filename, item.Error)
			continue
		}
		fmt.Printf("%-30s tumor %6d pixels (%.2f%%)\n", item.Filename, *item.TumorPixels, *item.TumorPercentage)
	}
	fmt.Printf("%d images, %d successful, %d failed\n", res.TotalImages, res.Successful, res.Failed)
	return nil
}
