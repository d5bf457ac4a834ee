//go:build gocv
// +build gocv

package main

import (
	"fmt"
	"log"

	"github.com/owl-rig/owl/internal/vision"
)

func openCamera(device string) (vision.FrameSource, func(), error) {
	src, err := vision.OpenCapture(device)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("capturing from %s", device)
	return src, func() {
		if err := src.Close(); err != nil {
			log.Printf("failed to close capture: %v", err)
		}
	}, nil
}

func newEngine(name string) (vision.CorrelationEngine, error) {
	switch name {
	case "", "ncc":
		return vision.NCC{}, nil
	case "gocv":
		return vision.GocvEngine{}, nil
	}
	return nil, fmt.Errorf("unknown correlation engine %q", name)
}
