// Package events defines the coordination events emitted on the event bus.
//
// Every event carries a Kind and a typed payload:
//   - SlotReserved: an airspace slot was admitted
//   - ConflictDetected / ConflictResolved: airspace conflict lifecycle
//   - RouteCalculated: the planner produced a route
//   - ObstacleAvoided: an avoidance maneuver completed
//   - EmergencyLandingInitiated: an agent switched to emergency landing
//   - EmergencyDispatched / EmergencyCompleted: assistance lifecycle
//
// Delivery is fire-and-forget and at-least-once; consumers dedupe on Event.ID.
package events
