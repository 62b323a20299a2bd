/*
Package events implements the watch/notify external interface: a
Broker distributes spec-update events as TOE commits land, a
WatchStore holds per-resource callback registrations, and a Notifier
bridges the two over HTTP, firing each registered callback at most
once per event.
*/
package events
