// Package timeouts defines shared timeout constants for the gateway and its
// tools so service boundaries agree on the same budgets.
package timeouts

import "time"

// Fetch caps one upstream fetch, including reading the response body.
const Fetch = 10 * time.Second

// Probe caps one connectivity probe against the origin.
const Probe = 3 * time.Second

// ProbeInterval is the default spacing between connectivity probes.
const ProbeInterval = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
