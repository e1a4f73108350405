// README: Pricing service; geocodes locations and quotes fares over Google Maps driving routes.
package pricing

import (
	"context"
	"fmt"
	"math"

	"googlemaps.github.io/maps"

	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

// routeAPI is the slice of the Google Maps client the service needs;
// *maps.Client satisfies it.
type routeAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

type Service struct {
	maps   routeAPI
	rates  map[order.Kind]Rate
	region string
}

func NewService(apiKey, region string) (*Service, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &Service{maps: client, rates: DefaultRates, region: region}, nil
}

// Quote geocodes both endpoints and prices the driving route between them.
func (s *Service) Quote(ctx context.Context, pickupQuery, dropoffQuery string, kind order.Kind) (order.Quote, error) {
	rate, ok := s.rates[kind]
	if !ok {
		return order.Quote{}, fmt.Errorf("no rate for kind %q", kind)
	}

	pickup, err := s.geocode(ctx, pickupQuery)
	if err != nil {
		return order.Quote{}, fmt.Errorf("geocode pickup: %w", err)
	}
	dropoff, err := s.geocode(ctx, dropoffQuery)
	if err != nil {
		return order.Quote{}, fmt.Errorf("geocode dropoff: %w", err)
	}

	routes, _, err := s.maps.Directions(ctx, &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", pickup.Lat, pickup.Lng),
		Destination: fmt.Sprintf("%f,%f", dropoff.Lat, dropoff.Lng),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	})
	if err != nil {
		return order.Quote{}, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return order.Quote{}, fmt.Errorf("no route between %q and %q", pickupQuery, dropoffQuery)
	}

	leg := routes[0].Legs[0]
	distanceKm := float64(leg.Distance.Meters) / 1000.0
	etaMinutes := int(math.Ceil(leg.Duration.Minutes()))

	return order.Quote{
		Pickup:  pickup,
		Dropoff: dropoff,
		Price: order.Price{
			Money: types.Money{
				Amount:   ComputeFare(rate, distanceKm, etaMinutes),
				Currency: rate.Currency,
			},
			DistanceKm: distanceKm,
			EtaMinutes: etaMinutes,
		},
	}, nil
}

func (s *Service) geocode(ctx context.Context, query string) (order.Location, error) {
	results, err := s.maps.Geocode(ctx, &maps.GeocodingRequest{
		Address: query,
		Region:  s.region,
	})
	if err != nil {
		return order.Location{}, err
	}
	if len(results) == 0 {
		return order.Location{}, fmt.Errorf("no geocoding result for %q", query)
	}
	r := results[0]
	return order.Location{
		Query:   query,
		Address: r.FormattedAddress,
		Point:   types.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
	}, nil
}

// ComputeFare prices a trip as base + per-km + per-minute, rounded up to the
// nearest 10 units.
func ComputeFare(r Rate, distanceKm float64, etaMinutes int) int64 {
	raw := float64(r.Base) + float64(r.PerKm)*distanceKm + float64(r.PerMinute)*float64(etaMinutes)
	return int64(math.Ceil(raw/10.0)) * 10
}
