package domain

import "image"

// GeneratedAsset is what a generator returns before materialization. Data may
// be empty when the backend only supplied a hosted URL. Image is set only by
// generators that render locally, so slicing can skip decoding.
type GeneratedAsset struct {
	URL    string
	MIME   string
	Data   []byte
	Image  image.Image
	Width  int
	Height int
}

// HasData reports whether bytes were delivered inline.
func (a GeneratedAsset) HasData() bool {
	return len(a.Data) > 0
}
