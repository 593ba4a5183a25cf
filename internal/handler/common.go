package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// currentUserID extracts the authenticated user's id from the context.
// JWTAuth stores the raw `sub` claim, which arrives as a float64 from
// the JSON decoder or occasionally as a numeric string. Returns 0 when
// no usable id is present.
func currentUserID(c echo.Context) uint64 {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
