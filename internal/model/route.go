package model

import "time"

// TourRoute is an admin-authored template reusable across many tour
// instances. It mirrors the `tour_routes` table.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – display name of the route.
//  Description – short description shown to visitors and fed to the narrator.
//  Duration    – advertised duration in minutes.
//  Price       – ticket price.
//  Languages   – comma-separated language codes offered by the guide.
//  Icon        – UI icon identifier.
//  IsActive    – whether the route can be started.
type TourRoute struct {
	ID          uint64    // tour_routes.id
	Name        string    // tour_routes.name
	Description string    // tour_routes.description
	Duration    uint32    // tour_routes.duration
	Price       float64   // tour_routes.price
	Languages   *string   // tour_routes.languages (nullable)
	Icon        *string   // tour_routes.icon (nullable)
	IsActive    bool      // tour_routes.is_active
	CreatedAt   time.Time // tour_routes.created_at
}
