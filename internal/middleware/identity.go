package middleware

// identity.go defines helper functions shared across middleware files. Currently
// it provides a userID extraction function that resolves the authenticated user
// from the Echo context. When no user is authenticated, "guest" is returned.

import (
    "strconv"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// userID extracts a user identifier from the Echo context. JWTAuth stores the
// raw "sub" claim under the user_id key, which arrives as a float64 after JSON
// decoding; integer and string forms are handled as well. As a fallback a
// *jwt.Token stored under "user" is inspected for sub or user_id claims. It
// returns "guest" when no user is authenticated.
func userID(c echo.Context) string {
    switch v := c.Get("user_id").(type) {
    case float64:
        if v > 0 {
            return strconv.FormatUint(uint64(v), 10)
        }
    case uint64:
        if v > 0 {
            return strconv.FormatUint(v, 10)
        }
    case string:
        if v != "" {
            return v
        }
    }
    if tok, ok := c.Get("user").(*jwt.Token); ok {
        if cl, ok := tok.Claims.(jwt.MapClaims); ok {
            if v, ok := cl["sub"].(string); ok && v != "" {
                return v
            }
            if v, ok := cl["user_id"].(string); ok && v != "" {
                return v
            }
        }
    }
    return "guest"
}
