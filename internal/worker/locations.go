package worker

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
)

const (
	colCode      = "code"
	colName      = "name"
	colLatitude  = "latitude"
	colLongitude = "longitude"
)

// locations returns a fresh schema per job; parse tracks codes already seen
// in the file.
func (w *Worker) locations() schema[model.Location] {
	seen := make(map[string]int)
	return schema[model.Location]{
		columns: []string{colCode, colName, colLatitude, colLongitude},
		parse: func(r row) (model.Location, *protocol.RejectedRow) {
			l, rej := parseLocation(r)
			if rej != nil {
				return l, rej
			}
			if first, ok := seen[l.Code]; ok {
				return l, reject(r.line, colCode, l.Code, fmt.Sprintf("duplicate code, first used on line %d", first))
			}
			seen[l.Code] = r.line
			return l, nil
		},
		check:   w.checkLocations,
		persist: w.store.SaveLocations,
	}
}

func parseCoordinate(raw string, limit float64) (float64, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < -limit || f > limit {
		return 0, false
	}
	return f, true
}

func parseLocation(r row) (model.Location, *protocol.RejectedRow) {
	var l model.Location
	for _, c := range []string{colCode, colName, colLatitude, colLongitude} {
		if r.get(c) == "" {
			return l, reject(r.line, c, "", "missing value")
		}
	}
	l.Code = r.get(colCode)
	l.Name = r.get(colName)

	var ok bool
	raw := r.get(colLatitude)
	if l.Latitude, ok = parseCoordinate(raw, 90); !ok {
		return l, reject(r.line, colLatitude, raw, "must be a number between -90 and 90")
	}
	raw = r.get(colLongitude)
	if l.Longitude, ok = parseCoordinate(raw, 180); !ok {
		return l, reject(r.line, colLongitude, raw, "must be a number between -180 and 180")
	}
	return l, nil
}

func (w *Worker) checkLocations(ctx context.Context, batch []entry[model.Location]) (checked[model.Location], error) {
	if w.reference == nil {
		return checked[model.Location]{accepted: batch}, nil
	}
	codes := make([]string, len(batch))
	for i, e := range batch {
		codes[i] = e.value.Code
	}
	existing, err := w.reference.KnownLocations(ctx, codes)
	if err != nil {
		return checked[model.Location]{}, fmt.Errorf("looking up locations: %w", err)
	}

	var ret checked[model.Location]
	for _, e := range batch {
		if existing[e.value.Code] {
			ret.rejected = append(ret.rejected, *reject(e.line, colCode, e.value.Code, "location already exists"))
			continue
		}
		ret.accepted = append(ret.accepted, e)
	}
	return ret, nil
}
