// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package event defines the closed set of event types the decision core
// arbitrates over. Every type carries a fixed priority (numerically higher
// means more urgent) and an optional mutual-exclusion group shared with the
// behaviours that respond to it.
package event

// Type identifies an event in the catalog.
type Type string

// Built-in event types, grouped by origin.
const (
	// system
	TypeNoop     Type = "noop"
	TypeShutdown Type = "system.shutdown"

	// emergency
	TypeBatteryLow      Type = "battery.low"
	TypeHighTemperature Type = "temperature.high"
	TypeCollision       Type = "collision.detect"

	// bumpers
	TypeBumperPort   Type = "bumper.port"
	TypeBumperCenter Type = "bumper.center"
	TypeBumperStbd   Type = "bumper.stbd"

	// range sensors
	TypeRangePort   Type = "range.port"
	TypeRangeCenter Type = "range.center"
	TypeRangeStbd   Type = "range.stbd"

	// motion directives
	TypeAhead      Type = "motion.ahead"
	TypeAstern     Type = "motion.astern"
	TypeTurnPort   Type = "motion.turn_port"
	TypeTurnStbd   Type = "motion.turn_stbd"
	TypeHalt       Type = "motion.halt"
	TypeVelocity   Type = "motion.velocity"

	// high-level behaviours
	TypeRoam  Type = "behave.roam"
	TypeSniff Type = "behave.sniff"

	// idle
	TypeIdle Type = "idle"
)

// Known group names.
const (
	GroupSystem    = "system"
	GroupAvoidance = "avoidance"
	GroupDrive     = "drive"
	GroupBehaviour = "behaviour"
	GroupIdle      = "idle"
)

// Def is one immutable catalog entry.
type Def struct {
	Type        Type
	Description string
	Priority    int
	Group       string
}

// Defaults returns the built-in catalog definitions. Priorities descend from
// emergency events down to idle, which must remain the lowest entry.
func Defaults() []Def {
	return []Def{
		{TypeBatteryLow, "battery low", 1000, GroupSystem},
		{TypeShutdown, "shutdown", 1000, GroupSystem},
		{TypeHighTemperature, "high temperature", 950, GroupSystem},
		{TypeCollision, "collision detect", 900, GroupAvoidance},
		{TypeBumperPort, "bumper port", 800, GroupAvoidance},
		{TypeBumperCenter, "bumper center", 800, GroupAvoidance},
		{TypeBumperStbd, "bumper starboard", 800, GroupAvoidance},
		{TypeRangePort, "range port", 700, GroupAvoidance},
		{TypeRangeCenter, "range center", 700, GroupAvoidance},
		{TypeRangeStbd, "range starboard", 700, GroupAvoidance},
		{TypeHalt, "halt", 600, GroupDrive},
		{TypeAhead, "ahead", 500, GroupDrive},
		{TypeAstern, "astern", 500, GroupDrive},
		{TypeTurnPort, "turn to port", 500, GroupDrive},
		{TypeTurnStbd, "turn to starboard", 500, GroupDrive},
		{TypeVelocity, "velocity directive", 450, GroupDrive},
		{TypeRoam, "roam", 300, GroupBehaviour},
		{TypeSniff, "sniff", 300, GroupBehaviour},
		{TypeNoop, "no operation", 100, GroupSystem},
		{TypeIdle, "idle", 10, GroupIdle},
	}
}
