package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
)

const (
	colSpecies    = "species"
	colLocation   = "location"
	colObservedAt = "observed_at"
	colCount      = "count"
	colObserver   = "observer"
)

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (w *Worker) observations() schema[model.Observation] {
	return schema[model.Observation]{
		columns: []string{colSpecies, colLocation, colObservedAt, colCount},
		parse:   w.parseObservation,
		check:   w.checkObservations,
		persist: w.store.SaveObservations,
	}
}

func (w *Worker) parseObservation(r row) (model.Observation, *protocol.RejectedRow) {
	var o model.Observation
	for _, c := range []string{colSpecies, colLocation, colObservedAt, colCount} {
		if r.get(c) == "" {
			return o, reject(r.line, c, "", "missing value")
		}
	}
	o.Species = r.get(colSpecies)
	o.Location = r.get(colLocation)
	o.Observer = r.get(colObserver)

	raw := r.get(colObservedAt)
	at, err := parseDate(raw)
	if err != nil {
		return o, reject(r.line, colObservedAt, raw, "invalid date, expected YYYY-MM-DD or RFC 3339")
	}
	if at.After(w.now()) {
		return o, reject(r.line, colObservedAt, raw, "date is in the future")
	}
	o.ObservedAt = at

	raw = r.get(colCount)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return o, reject(r.line, colCount, raw, "must be a positive integer")
	}
	o.Count = n
	return o, nil
}

func (w *Worker) checkObservations(ctx context.Context, batch []entry[model.Observation]) (checked[model.Observation], error) {
	if w.reference == nil {
		return checked[model.Observation]{accepted: batch}, nil
	}
	var species, locations []string
	seenS := make(map[string]bool)
	seenL := make(map[string]bool)
	for _, e := range batch {
		if !seenS[e.value.Species] {
			seenS[e.value.Species] = true
			species = append(species, e.value.Species)
		}
		if !seenL[e.value.Location] {
			seenL[e.value.Location] = true
			locations = append(locations, e.value.Location)
		}
	}

	knownS, err := w.reference.KnownSpecies(ctx, species)
	if err != nil {
		return checked[model.Observation]{}, fmt.Errorf("looking up species: %w", err)
	}
	knownL, err := w.reference.KnownLocations(ctx, locations)
	if err != nil {
		return checked[model.Observation]{}, fmt.Errorf("looking up locations: %w", err)
	}

	var ret checked[model.Observation]
	for _, e := range batch {
		switch {
		case !knownS[e.value.Species]:
			ret.rejected = append(ret.rejected, *reject(e.line, colSpecies, e.value.Species, "unknown species"))
		case !knownL[e.value.Location]:
			ret.rejected = append(ret.rejected, *reject(e.line, colLocation, e.value.Location, "unknown location"))
		default:
			ret.accepted = append(ret.accepted, e)
		}
	}
	return ret, nil
}
