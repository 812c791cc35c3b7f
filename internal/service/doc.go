// Package service holds the event bus every long-running component
// publishes to and the inventory service the HTTP layer and the CLI share.
//
// EventBus fans events out to subscribers without blocking; the SSE hub is
// the main subscriber. Components take a Publisher so they can run with
// NopPublisher in one-shot CLI commands.
package service
