// Package variant decides which resized derivatives an uploaded object gets
// and whether an object is one of our own outputs.
//
// The policy is deliberately key-driven: the uploader encodes intent in the
// object key ("profile-42.png" is an avatar, anything else is a game/cover
// image), so classification never needs to read the object.
package variant

import (
	"path"
	"strings"
)

// Format is an output image codec. Its string value is the MIME subtype.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
)

// ContentType returns the MIME type written alongside the encoded variant.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Variant names. They double as the output key prefix.
const (
	NameStandard  = "standard"
	NameThumbnail = "thumbnail"
	NameProfile   = "profile"
)

// profileMarker selects the avatar crop when it appears anywhere in the key.
const profileMarker = "profile"

// supportedExtensions maps a lower-cased extension (without the dot) to the
// output format of the same family. "jpg" is the only one that is renamed.
var supportedExtensions = map[string]Format{
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"gif":  FormatGIF,
}

// Spec describes one derivative. Height 0 means "preserve aspect ratio";
// a positive Height means an exact Width x Height centre crop.
type Spec struct {
	Name   string
	Width  int
	Height int
	Format Format
}

// PreservesAspect reports whether the output height follows the source ratio.
func (s Spec) PreservesAspect() bool {
	return s.Height == 0
}

// Sizes holds the target dimensions for each variant.
type Sizes struct {
	StandardWidth  int
	ThumbnailWidth int
	ProfileSize    int
}

// DefaultSizes matches what the front-end expects in the processed bucket.
var DefaultSizes = Sizes{
	StandardWidth:  800,
	ThumbnailWidth: 400,
	ProfileSize:    200,
}

// Policy is the variant table. The zero value is not usable; use NewPolicy.
type Policy struct {
	sizes Sizes
}

// NewPolicy creates a Policy for the given sizes.
func NewPolicy(sizes Sizes) *Policy {
	return &Policy{sizes: sizes}
}

// Classify returns the ordered variants to produce for key. An empty result
// means the object is not an image we handle and the invocation is skipped.
func (p *Policy) Classify(key string) []Spec {
	format, ok := FormatForKey(key)
	if !ok {
		return nil
	}

	specs := []Spec{
		{Name: NameStandard, Width: p.sizes.StandardWidth, Format: format},
		{Name: NameThumbnail, Width: p.sizes.ThumbnailWidth, Format: format},
	}
	if strings.Contains(key, profileMarker) {
		specs = append(specs, Spec{
			Name:   NameProfile,
			Width:  p.sizes.ProfileSize,
			Height: p.sizes.ProfileSize,
			Format: format,
		})
	}
	return specs
}

// FormatForKey maps the key's extension to an output format.
// The second return value is false for unsupported extensions.
func FormatForKey(key string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	format, ok := supportedExtensions[ext]
	return format, ok
}

// OutputKey composes the destination key for a variant of originalKey.
// prefix is normally empty; it exists so deployments writing back into the
// watched bucket can route outputs through the guard's marker.
func OutputKey(prefix, variantName, originalKey string) string {
	return prefix + variantName + "-" + originalKey
}
