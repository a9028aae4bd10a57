// Package queue provides the durable publish queue and its worker pool.
//
// Jobs flow through four Redis structures: a pending list (LPUSH/BRPOP),
// a delayed sorted set scored by retry due time, and bounded failed and
// completed history lists. When Redis is unavailable at construction the
// queue runs in direct mode and processes every job inline at Enqueue
// time.
//
// Callers must treat Enqueue as fire-and-forget in both modes; the mode
// is observable via Mode() and surfaced by the health endpoint.
package queue
