// Package events fans cache activity out to the daemon's outer surfaces.
//
// Dispatcher implements cdi.Observer. The cache calls it while holding its
// lock, so the dispatcher only copies the report onto a bounded queue; a
// background goroutine then publishes the event over MQTT and writes the
// matching InfluxDB point. When the queue is full the report is dropped
// and counted rather than stalling the cache.
//
//	cdi.Cache ──report──▶ Dispatcher queue ──▶ MQTT  <prefix>/events/{refresh,inject}
//	                                          └─▶ InfluxDB cdi_refresh / cdi_inject
//
// RefreshTrigger is the inbound half: it subscribes to
// <prefix>/command/refresh and calls Refresh on the cache for every message.
package events
