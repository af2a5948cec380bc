package core

import (
	"context"
)

// Order is a delivery order offered to the solver.
type Order struct {
	ID              string   `json:"id"`
	TrackingID      string   `json:"tracking_id"`
	Address         string   `json:"address"`
	Lat             float64  `json:"lat"`
	Lng             float64  `json:"lng"`
	Weight          float64  `json:"weight"`
	Volume          float64  `json:"volume"`
	Priority        int      `json:"priority,omitempty"`
	TimeWindowStart string   `json:"time_window_start,omitempty"`
	TimeWindowEnd   string   `json:"time_window_end,omitempty"`
	ServiceTimeSec  int      `json:"service_time,omitempty"`
	Skills          []string `json:"skills,omitempty"`
}

// Vehicle describes a vehicle available for routing.
type Vehicle struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"identifier"`
	MaxWeight   float64  `json:"max_weight"`
	MaxVolume   float64  `json:"max_volume"`
	MaxOrders   int      `json:"max_orders,omitempty"`
	OriginLat   *float64 `json:"origin_lat,omitempty"`
	OriginLng   *float64 `json:"origin_lng,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	SpeedFactor float64  `json:"speed_factor,omitempty"`
}

// Depot is the shared route start point.
type Depot struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	TimeWindowStart string  `json:"time_window_start,omitempty"`
	TimeWindowEnd   string  `json:"time_window_end,omitempty"`
}

// SolverConfig carries the named parameter set for a run. The
// orchestrator does not interpret these fields; they pass through to
// the solver untouched.
type SolverConfig struct {
	Depot               Depot    `json:"depot"`
	Objective           string   `json:"objective"` // DISTANCE | TIME | BALANCED
	BalanceVisits       bool     `json:"balance_visits"`
	MaxDistanceKm       *float64 `json:"max_distance_km,omitempty"`
	MaxTravelTimeMin    *float64 `json:"max_travel_time_minutes,omitempty"`
	TrafficFactor       int      `json:"traffic_factor,omitempty"` // 0-100
	RouteEndMode        string   `json:"route_end_mode,omitempty"`
	MinimizeVehicles    bool     `json:"minimize_vehicles"`
	OpenStart           bool     `json:"open_start"`
	FlexibleTimeWindows bool     `json:"flexible_time_windows"`
	MaxRoutes           *int     `json:"max_routes,omitempty"`
}

// SolveInput is the opaque payload handed to the solver.
type SolveInput struct {
	Orders   []Order      `json:"orders"`
	Vehicles []Vehicle    `json:"vehicles"`
	Config   SolverConfig `json:"config"`
}

// Stop is a single visit on a computed route.
type Stop struct {
	OrderID     string   `json:"order_id"`
	TrackingID  string   `json:"tracking_id"`
	Address     string   `json:"address"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Sequence    int      `json:"sequence"`
	ArrivalTime *float64 `json:"arrival_time,omitempty"`
}

// Route is one vehicle's computed itinerary.
type Route struct {
	VehicleID         string  `json:"vehicle_id"`
	VehicleIdentifier string  `json:"vehicle_identifier"`
	Stops             []Stop  `json:"stops"`
	TotalDistance     float64 `json:"total_distance"` // meters
	TotalDuration     float64 `json:"total_duration"` // seconds
	TotalWeight       float64 `json:"total_weight"`
	TotalVolume       float64 `json:"total_volume"`
	Geometry          string  `json:"geometry,omitempty"`
}

// UnassignedOrder is an order the solver could not place on any route.
type UnassignedOrder struct {
	OrderID    string `json:"order_id"`
	TrackingID string `json:"tracking_id"`
	Reason     string `json:"reason"`
}

// Metrics summarizes a solve.
type Metrics struct {
	TotalDistance   float64 `json:"total_distance"`
	TotalDuration   float64 `json:"total_duration"`
	TotalRoutes     int     `json:"total_routes"`
	TotalStops      int     `json:"total_stops"`
	ComputingTimeMs float64 `json:"computing_time_ms"`
}

// SolveResult is the solver's output payload.
type SolveResult struct {
	Routes     []Route           `json:"routes"`
	Unassigned []UnassignedOrder `json:"unassigned"`
	Metrics    Metrics           `json:"metrics"`
}

// Solver is the pluggable vehicle-routing engine.
//
// Cancellation is cooperative: implementations are expected to check
// ctx at reasonable intervals and may return early with partial data
// when it is cancelled. An implementation that never checks ctx keeps
// computing after the orchestrator has already finalized the job as
// cancelled; the orchestrator cleans up its own bookkeeping either
// way, but cannot reclaim the solver's compute.
//
// Implementations may report intermediate progress through
// jobctx.ReportProgress.
type Solver interface {
	Optimize(ctx context.Context, input *SolveInput) (*SolveResult, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, input *SolveInput) (*SolveResult, error)

// Optimize implements Solver.
func (f SolverFunc) Optimize(ctx context.Context, input *SolveInput) (*SolveResult, error) {
	return f(ctx, input)
}
