//go:build !linux

package main

import "errors"

func openWebcam(SourceConfig) (source, error) {
	return nil, errors.New("webcam capture is only supported on linux")
}
