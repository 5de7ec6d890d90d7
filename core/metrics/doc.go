// Package metrics defines the sinks that record coordination activity.
// MetricsSink is the mandatory contract; the optional recorder interfaces
// are discovered with type assertions so a sink only implements what it
// can store. NewMetricsSink builds sinks from configuration and combines
// several of them into a MultiSink.
package metrics
