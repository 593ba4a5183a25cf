package model

import "strconv"

func waypointLabel(seq uint32) string {
	return "Waypoint " + strconv.FormatUint(uint64(seq), 10)
}
