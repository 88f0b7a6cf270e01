// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "github.com/momentics/hioload-http/api"

// ErrPoolStopped indicates the pool no longer accepts tasks.
var ErrPoolStopped = api.Errorf(api.KindRejected, "pool submit", "pool is stopped")
