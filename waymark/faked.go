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
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GenerateDemoMarkers fills the owner's working set with count
// plausible fake markers so the map can be demonstrated without real
// photos. Demo markers go through the same persistence and publish
// steps as real admissions, including fingerprint records, so dedup
// behavior is demonstrable too; only metadata extraction and geocoding
// are faked.
func (r *Repository) GenerateDemoMarkers(ctx context.Context, ownerID string, count int) ([]Marker, error) {
	ws, err := r.workingSet(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	start := time.Now().AddDate(0, -6, 0)
	end := time.Now()

	markers := make([]Marker, 0, count)
	for i := 0; i < count; i++ {
		fakeAddr := gofakeit.Address()

		m := Marker{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Latitude:  fakeAddr.Latitude,
			Longitude: fakeAddr.Longitude,
			Address: Address{
				Street:  fakeAddr.Street,
				City:    fakeAddr.City,
				State:   fakeAddr.State,
				Country: fakeAddr.Country,
				Postal:  fakeAddr.Zip,
			},
			VisitTime:   gofakeit.DateRange(start, end).UnixMilli(),
			ContentHash: fingerprint(fmt.Appendf(nil, "demo-%s-%d-%d", ownerID, i, gofakeit.Number(0, 1<<30))),
		}

		if err := r.recordHash(ctx, ownerID, m.ContentHash); err != nil {
			return markers, err
		}
		if err := r.saveMarker(ctx, m); err != nil {
			return markers, err
		}
		ws.insert(m)
		markers = append(markers, m)
	}

	ws.rebuildRoute()

	r.log.Info("generated demo markers",
		zap.String("owner_id", ownerID),
		zap.Int("count", count),
		zap.Int("working_set_size", ws.len()))

	return markers, nil
}
