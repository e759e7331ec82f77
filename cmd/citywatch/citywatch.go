package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/citywatch/citywatch/server"
	"github.com/citywatch/citywatch/server/camera"
	"github.com/citywatch/citywatch/server/config"
	"github.com/citywatch/citywatch/server/vision"
)

func main() {
	parser := argparse.NewParser("citywatch", "Video incident detection and distribution service")
	envFile := parser.String("e", "env", &argparse.Options{Help: "Path to .env file", Default: ".env"})
	port := parser.Int("p", "port", &argparse.Options{Help: "HTTP listen port (overrides HTTP_PORT)", Default: 0})
	noCapture := parser.Flag("", "no-capture", &argparse.Options{Help: "Run the API and task pipeline without the capture loop", Default: false})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTPPort = *port
	}

	s, err := server.NewServer(nil, cfg)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	if !*noCapture && cfg.StreamDir != "" {
		source, err := camera.NewDirSource(cfg.StreamDir)
		if err != nil {
			s.Log.Errorf("Failed to open stream directory %v: %v", cfg.StreamDir, err)
			os.Exit(1)
		}
		model, err := vision.LoadModel(s.Log, cfg.ModelPath)
		if err != nil {
			s.Log.Errorf("Failed to load model %v: %v", cfg.ModelPath, err)
			os.Exit(1)
		}
		if err := s.StartCapture(source, model); err != nil {
			s.Log.Errorf("Failed to start capture: %v", err)
			os.Exit(1)
		}
	} else {
		s.Log.Infof("Capture disabled (no STREAM_DIR, or --no-capture)")
	}

	s.ListenForKillSignals()
	if err := s.ListenHTTP(fmt.Sprintf(":%v", cfg.HTTPPort)); err != nil && err != http.ErrServerClosed {
		fmt.Printf("%v\n", err)
	}
}
