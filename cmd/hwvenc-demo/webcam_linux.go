package main

import (
	"fmt"
	"io"

	"github.com/blackjack/webcam"
	"github.com/pion/hwvenc/pkg/frame"
)

// pixFmtYUYV is V4L2_PIX_FMT_YUYV.
const pixFmtYUYV = webcam.PixelFormat('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)

const readTimeout = 5 // seconds

// webcamSource streams raw YUYV frames from a V4L2 device. The frames go
// to the encoder untouched; the component converts them.
type webcamSource struct {
	cam *webcam.Webcam
}

func openWebcam(cfg SourceConfig) (source, error) {
	cam, err := webcam.Open(cfg.Device)
	if err != nil {
		return nil, err
	}
	if _, ok := cam.GetSupportedFormats()[pixFmtYUYV]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s: YUYV is not supported", cfg.Device)
	}

	format, w, h, err := cam.SetImageFormat(pixFmtYUYV, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		cam.Close()
		return nil, err
	}
	if format != pixFmtYUYV || int(w) != cfg.Width || int(h) != cfg.Height {
		cam.Close()
		return nil, fmt.Errorf("%s: %dx%d YUYV not available, device chose %dx%d", cfg.Device, cfg.Width, cfg.Height, w, h)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, err
	}
	logger.Infof("streaming %s, %dx%d YUYV", cfg.Device, w, h)
	return &webcamSource{cam: cam}, nil
}

func (s *webcamSource) Format() frame.Format {
	return frame.FormatYUYV
}

func (s *webcamSource) ReadFrame(dst []byte) (int, error) {
	for {
		err := s.cam.WaitForFrame(readTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			logger.Warn("webcam: timed out waiting for a frame")
			continue
		default:
			return 0, err
		}

		b, err := s.cam.ReadFrame()
		if err != nil {
			return 0, err
		}
		// Frames may be empty while the device warms up.
		if len(b) == 0 {
			continue
		}
		if len(dst) < len(b) {
			return 0, io.ErrShortBuffer
		}
		return copy(dst, b), nil
	}
}

func (s *webcamSource) Close() error {
	if err := s.cam.StopStreaming(); err != nil {
		logger.Warnf("webcam: stop streaming: %v", err)
	}
	return s.cam.Close()
}
