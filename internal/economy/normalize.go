package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedWorld = errors.New("malformed world payload")

const maxNameLen = 32

// IncomingWorld is a client save after normalization. Only fields a client is
// allowed to propose are carried.
type IncomingWorld struct {
	Buildings []Building
	Obstacles []Obstacle
	Army      map[string]int
}

type rawWorld struct {
	Buildings []json.RawMessage
	Obstacles []json.RawMessage
	Army      map[string]json.RawMessage
}

// decodeField decodes fields[name] into dst. A missing or mistyped field
// leaves dst at its zero value.
func decodeField(fields map[string]json.RawMessage, name string, dst any) {
	v, ok := fields[name]
	if !ok {
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		_ = json.Unmarshal([]byte("null"), dst)
	}
}

// ParseWorld decodes a client save. Fields and entries that fail to decode or
// fall outside the allowed ranges are dropped or clamped. Only a payload that
// is not a JSON object is an error.
func ParseWorld(raw []byte) (IncomingWorld, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return IncomingWorld{}, fmt.Errorf("%w: %v", ErrMalformedWorld, err)
	}
	if fields == nil {
		return IncomingWorld{}, fmt.Errorf("%w: payload is null", ErrMalformedWorld)
	}

	var rw rawWorld
	decodeField(fields, "buildings", &rw.Buildings)
	decodeField(fields, "obstacles", &rw.Obstacles)
	decodeField(fields, "army", &rw.Army)

	in := IncomingWorld{Army: map[string]int{}}

	seen := make(map[string]struct{})
	for _, item := range rw.Buildings {
		if len(in.Buildings) >= MaxBuildings {
			break
		}
		var b Building
		if err := json.Unmarshal(item, &b); err != nil {
			continue
		}
		b, ok := normalizeBuilding(b)
		if !ok {
			continue
		}
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		in.Buildings = append(in.Buildings, b)
	}

	seen = make(map[string]struct{})
	for _, item := range rw.Obstacles {
		if len(in.Obstacles) >= MaxObstacles {
			break
		}
		var o Obstacle
		if err := json.Unmarshal(item, &o); err != nil {
			continue
		}
		o.ID = strings.TrimSpace(o.ID)
		o.Type = strings.TrimSpace(o.Type)
		if o.ID == "" || o.Type == "" {
			continue
		}
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		o.GridX = clampInt(o.GridX, 0, MapSize-1)
		o.GridY = clampInt(o.GridY, 0, MapSize-1)
		in.Obstacles = append(in.Obstacles, o)
	}

	for name, v := range rw.Army {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > maxNameLen {
			continue
		}
		var count int
		if err := json.Unmarshal(v, &count); err != nil {
			continue
		}
		in.Army[name] = clampInt(count, 0, MaxTroopCount)
	}

	return in, nil
}

func normalizeBuilding(b Building) (Building, bool) {
	b.ID = strings.TrimSpace(b.ID)
	b.Type = strings.TrimSpace(b.Type)
	if b.ID == "" || b.Type == "" || len(b.Type) > maxNameLen {
		return b, false
	}
	b.GridX = clampInt(b.GridX, 0, MapSize-1)
	b.GridY = clampInt(b.GridY, 0, MapSize-1)
	b.Level = clampInt(b.Level, 1, MaxLevel)
	return b, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hasTownHall(buildings []Building) bool {
	for _, b := range buildings {
		if b.Type == TownHall {
			return true
		}
	}
	return false
}

// looksRegressed reports a save that would wipe most of an established base.
func looksRegressed(current, incoming int) bool {
	if current < 20 {
		return false
	}
	return incoming == 0 || incoming <= current*2/10
}
