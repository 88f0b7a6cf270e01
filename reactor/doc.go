// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the edge-triggered readiness multiplexer used by the
// WebSocket hub: descriptors are registered with an interest mask and a single
// dispatch callback receives each ready descriptor number.
package reactor
