// Package influxdb records cache activity in InfluxDB v2.
//
// Two measurements are written, both tagged with "result":
//
//	cdi_refresh  generation, devices, sources, unreadable_sources, load_errors, duration_ms
//	cdi_inject   generation, requested, injected, unresolved, failed, duration_ms
//
// Writes go through the client library's batched, non-blocking write API, so
// callers on the cache's hot path never wait on the network. Batch failures
// are reported asynchronously through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRefresh(influxdb.RefreshSample{Generation: 3, Devices: 8})
package influxdb
