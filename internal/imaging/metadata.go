package imaging

import (
	"bytes"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Metadata is the subset of EXIF we surface in logs and the outcome ledger.
type Metadata struct {
	CameraMake  string
	CameraModel string
	DateTaken   time.Time
	HasGPS      bool
}

// ReadMetadata extracts EXIF from an encoded image. It is best-effort:
// formats without EXIF (PNG, GIF) and malformed blocks return nil.
func ReadMetadata(data []byte) (meta *Metadata) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("EXIF parser panicked, ignoring metadata")
			meta = nil
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata")
		return nil
	}

	meta = &Metadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}
	// DateTimeOriginal, then CreateDate, then ModifyDate.
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		meta.DateTaken = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		meta.DateTaken = exifData.CreateDate()
	case !exifData.ModifyDate().IsZero():
		meta.DateTaken = exifData.ModifyDate()
	}
	gps := exifData.GPS
	meta.HasGPS = gps.Latitude() != 0 || gps.Longitude() != 0

	if *meta == (Metadata{}) {
		return nil
	}
	return meta
}

// MarshalZerologObject lets Metadata be attached to a log event with Object().
func (m *Metadata) MarshalZerologObject(e *zerolog.Event) {
	if m.CameraMake != "" {
		e.Str("make", m.CameraMake)
	}
	if m.CameraModel != "" {
		e.Str("model", m.CameraModel)
	}
	if !m.DateTaken.IsZero() {
		e.Time("taken", m.DateTaken)
	}
	e.Bool("gps", m.HasGPS)
}

// Fields flattens Metadata into string attributes for storage.
func (m *Metadata) Fields() map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, 3)
	if m.CameraMake != "" {
		out["cameraMake"] = m.CameraMake
	}
	if m.CameraModel != "" {
		out["cameraModel"] = m.CameraModel
	}
	if !m.DateTaken.IsZero() {
		out["dateTaken"] = m.DateTaken.Format(time.RFC3339)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
