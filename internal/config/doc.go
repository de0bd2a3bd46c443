// Package config loads taskwire.json or taskwire.yaml.
//
// The JSON form accepts // and /* */ comments and trailing commas.
// Durations are strings in time.ParseDuration syntax.
//
//	{
//	  // where the CLI connects
//	  "server": {"address": "ws://localhost:8080", "path": "/ws", "codec": "json"},
//	  "client": {
//	    "requestTimeout": "10s",
//	    "reconnectAttempts": 10,
//	    "reconnectInterval": "3s",
//	    "heartbeat": "55s",
//	    "dialTimeout": "10s"
//	  },
//	  "log": {"level": "info", "format": "text"},
//	  "metrics": {"enabled": false, "namespace": "taskwire", "listen": ":9090"},
//	  "archive": {"dir": "archive", "compression": "zstd", "batchSize": 500, "flushInterval": "1m"},
//	  "rateLimit": {"minInterval": "10s"},
//	  "peer": {"listen": ":8080", "blockInterval": "5s"},
//	}
//
// The TASKWIRE_SERVER environment variable overrides server.address.
package config
