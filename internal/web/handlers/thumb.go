package handlers

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"strconv"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gbabichev/Twinalyzer-sub001/internal/thumbcache"
)

const defaultThumbSize = 256

// ThumbHandler serves downscaled previews, consulting the thumbnail cache
// when one is available. Cache misses are always transparent.
type ThumbHandler struct {
	cache *thumbcache.Cache
}

// NewThumbHandler creates a new thumbnail handler.
func NewThumbHandler(cache *thumbcache.Cache) *ThumbHandler {
	return &ThumbHandler{cache: cache}
}

// Get renders ?path= at ?size= as a JPEG thumbnail.
func (h *ThumbHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path parameter is required")
		return
	}
	size := defaultThumbSize
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			size = n
		}
	}

	thumb, err := h.thumbnail(path, size)
	if err != nil {
		writeError(w, http.StatusNotFound, "failed to load image: "+err.Error())
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode thumbnail")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(buf.Bytes())
}

func (h *ThumbHandler) thumbnail(path string, size int) (image.Image, error) {
	if h.cache != nil {
		if img, ok := h.cache.Get(path, size); ok {
			return img, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	thumb := resizeToFit(img, thumbcache.Bucket(size))
	if h.cache != nil {
		h.cache.Add(path, size, thumb)
	}
	return thumb, nil
}

// resizeToFit scales img down so its longer edge is at most maxSize,
// preserving aspect ratio. Smaller images pass through unchanged.
func resizeToFit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}
