/*
	Waymark
	Copyright (c) 2024 Waymark contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package waymark

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cozy/goexif2/exif"
	"github.com/cozy/goexif2/mknote"
	"go.uber.org/zap"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// ErrMetadataMissing means the image has no usable GPS or timestamp
// tags. It is an expected condition for photos from GPS-less cameras or
// with stripped metadata, not a crash: admission of that file aborts
// quietly and no marker is created.
var ErrMetadataMissing = errors.New("image has no usable GPS or timestamp metadata")

// photoMetadata is what the pipeline needs from an image's embedded
// metadata to make a marker.
type photoMetadata struct {
	latitude  float64
	longitude float64
	visitTime time.Time
}

// extractMetadata pulls GPS coordinates and the capture timestamp out
// of the image bytes read from r. Absent or malformed tags yield an
// error wrapping ErrMetadataMissing; no tag is ever assumed present.
// Coordinates are returned exactly as extracted, even if out of range;
// range validation is the caller's concern (it warns, not blocks).
func extractMetadata(logger *zap.Logger, r io.Reader) (photoMetadata, error) {
	var pm photoMetadata

	ex, err := exif.Decode(r)
	if err != nil && exif.IsCriticalError(err) {
		return pm, fmt.Errorf("%w: decoding EXIF: %v", ErrMetadataMissing, err)
	}
	if err != nil {
		// non-critical decode problems still leave usable tags
		logger.Debug("EXIF decoded with minor errors", zap.Error(err))
	}

	lat, long, err := ex.LatLong()
	if err != nil {
		return pm, fmt.Errorf("%w: no GPS tags: %v", ErrMetadataMissing, err)
	}

	ts, err := ex.DateTime()
	if err != nil {
		return pm, fmt.Errorf("%w: no capture timestamp: %v", ErrMetadataMissing, err)
	}

	pm.latitude = lat
	pm.longitude = long
	pm.visitTime = ts
	return pm, nil
}

// normalizeTimeZone fixes up the capture timestamp's zone using the
// photo's coordinates. EXIF timestamps are wall time with no zone, and
// the decoder reports them in the process's local zone, which skews the
// epoch whenever the photo was taken elsewhere. If a zone finder is
// available and the timestamp looks unzoned (local or UTC), we keep the
// wall-clock components and re-anchor them in the zone the coordinates
// fall in.
func (p *Pipeline) normalizeTimeZone(logger *zap.Logger, pm *photoMetadata) {
	if p.tzFinder == nil || pm.visitTime.IsZero() {
		return
	}
	zone := pm.visitTime.Location()
	if zone != time.Local && zone != time.UTC {
		return
	}

	tzName := p.tzFinder.GetTimezoneName(pm.longitude, pm.latitude)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		logger.Error("could not load time zone inferred from coordinates",
			zap.Float64("latitude", pm.latitude),
			zap.Float64("longitude", pm.longitude),
			zap.String("time_zone", tzName),
			zap.Error(err))
		return
	}

	if zone == time.Local {
		// preserve the exact wall-clock components while changing the
		// zone; in Go this means constructing a new time.Time, since
		// the absolute moment in time changes
		pm.visitTime = time.Date(
			pm.visitTime.Year(),
			pm.visitTime.Month(),
			pm.visitTime.Day(),
			pm.visitTime.Hour(),
			pm.visitTime.Minute(),
			pm.visitTime.Second(),
			pm.visitTime.Nanosecond(),
			loc,
		)
	} else {
		// already an absolute moment; reassign the zone for display only
		pm.visitTime = pm.visitTime.In(loc)
	}

	logger.Debug("assigned time zone from coordinates",
		zap.Float64("latitude", pm.latitude),
		zap.Float64("longitude", pm.longitude),
		zap.String("time_zone", tzName))
}
