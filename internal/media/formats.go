package media

import (
	"path/filepath"
	"strings"
)

// supportedExtensions covers the audio and video containers ffmpeg can
// reliably demux into a mono 16kHz WAV.
var supportedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".flac": true,
	".wma":  true,
	".webm": true,
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".3gp":  true,
}

// SupportedFormat reports whether the filename has a recognized media
// extension.
func SupportedFormat(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
