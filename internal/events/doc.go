// Package events publishes one routing event per classified message.
//
// Each event carries source "urbanhub.bird.webhook", detail type
// "Agent Routing Required" and a detail document with the routing decision,
// the message data and a timestamp.
//
// EventBridgePublisher sends events to an AWS EventBridge bus. Broadcaster
// is an in-process fan-out keyed by target agent, used when no bus is
// configured and in tests.
package events
