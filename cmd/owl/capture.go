//go:build !gocv
// +build !gocv

package main

import (
	"errors"
	"fmt"

	"github.com/owl-rig/owl/internal/vision"
)

func openCamera(device string) (vision.FrameSource, func(), error) {
	return nil, nil, fmt.Errorf("%w: camera %q needs a build with -tags gocv", vision.ErrSourceUnavailable, device)
}

func newEngine(name string) (vision.CorrelationEngine, error) {
	switch name {
	case "", "ncc":
		return vision.NCC{}, nil
	case "gocv":
		return nil, errors.New("the gocv engine needs a build with -tags gocv")
	}
	return nil, fmt.Errorf("unknown correlation engine %q", name)
}
