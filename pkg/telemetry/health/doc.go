// Package health serves liveness and readiness probes.
//
// /health answers as long as the process runs. /ready runs every
// registered check with a per-check timeout. The gateway registers the
// admission store ping as Critical and the provider circuit as Advisory, so
// a cooldown reports degraded without pulling the instance out of rotation.
package health
