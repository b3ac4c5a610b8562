package cadence

import "context"

// Context is the execution context handed to worker handlers. The tenant
// is carried on it via the scope package.
type Context = context.Context
