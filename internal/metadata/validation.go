package metadata

import "github.com/ngdi-portal/portal/internal/models"

const bboxMessage = "must be a valid extent (west<=east, south<=north, within ±180/±90)"

// ValidBBox reports whether b is a well-formed WGS84 extent
func ValidBBox(b models.BoundingBox) bool {
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return false
	}
	return b.West <= b.East && b.South <= b.North
}
