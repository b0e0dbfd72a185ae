package processing

import (
	"path"
	"strings"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mov": {},
	".avi": {},
}

// Classify decides how an uploaded object is analyzed from its key suffix.
// Anything that is not a known video extension is treated as an image.
func Classify(objectKey string) MediaType {
	ext := strings.ToLower(path.Ext(objectKey))
	if _, ok := videoExtensions[ext]; ok {
		return MediaVideo
	}
	return MediaImage
}
