// Package schedule evaluates cron-driven digest schedules. The engine
// polls due times rather than arming timers, so restarts need no
// recovery pass, and derives mutual exclusion from the run history: at
// most one run per schedule is ever in flight, while distinct schedules
// run freely in parallel.
package schedule
