// Command classify runs one image through the classification pipeline and
// prints the result.
//
//	classify -modality CT -image scan.dcm [-json] [-config radiolens.yaml]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/radiolens/radiolens/internal/app"
	"github.com/radiolens/radiolens/internal/config"
	"github.com/radiolens/radiolens/internal/insight"
	"github.com/radiolens/radiolens/internal/pipeline"
	"github.com/radiolens/radiolens/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

var errUsage = errors.New("usage: classify -modality <CT|X-RAY> -image <path> [-json] [-config <file>]")

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tag := fs.String("modality", "", "imaging modality (CT or X-RAY)")
	imagePath := fs.String("image", "", "path to a PNG, JPEG or DICOM image")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	configPath := fs.String("config", "", "config file (overrides RADIOLENS_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *tag == "" || *imagePath == "" {
		fmt.Fprintln(stderr, errUsage)
		return 2
	}
	if _, err := os.Stat(*imagePath); err != nil {
		fmt.Fprintf(stderr, "classify: %v\n", err)
		return 2
	}

	env := getenv
	if *configPath != "" {
		env = func(k string) string {
			if k == "RADIOLENS_CONFIG" {
				return *configPath
			}
			return getenv(k)
		}
	}
	cfg, err := config.FromEnv(env)
	if err != nil {
		fmt.Fprintf(stderr, "classify: %v\n", err)
		return 1
	}

	// Logs go to stderr so stdout stays parseable.
	logger := server.NewLogger(stderr, cfg.LogLevel)
	a, err := app.Build(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "classify: %v\n", err)
		return 1
	}

	result, err := a.Pipeline.Run(ctx, *tag, *imagePath)
	if err != nil {
		fmt.Fprintf(stderr, "classify: %s: %v\n", pipeline.ErrorKind(err), err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return 0
	}
	fmt.Fprintf(stdout, "Label:      %s\n", result.Label)
	fmt.Fprintf(stdout, "Confidence: %s\n", insight.FormatConfidence(result.Confidence))
	fmt.Fprintf(stdout, "Insight:    %s\n", result.Insight)
	return 0
}
