package video

import (
	"image"
	"time"
)

// Throttle returns a transform that drops frames to bring the frame rate of
// the source down to rate. Dropped frames are released at once.
func Throttle(rate float32) TransformFunc {
	return func(r Reader) Reader {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / float64(rate)))
		return ReaderFunc(func() (image.Image, func(), error) {
			for {
				img, release, err := r.Read()
				if err != nil {
					ticker.Stop()
					return nil, func() {}, err
				}
				select {
				case <-ticker.C:
					return img, release, nil
				default:
					release()
				}
			}
		})
	}
}
