package dbridge

import "time"

type (
	NodeInfo struct {
		ID      string    `json:"id"`
		Role    string    `json:"role"`
		Serial  string    `json:"serial"`
		Version string    `json:"version"`
		Uptime  time.Time `json:"uptime"`
	}

	TransportInfo struct {
		ID     string `json:"id"`
		Serial string `json:"serial"`
		Kind   string `json:"kind"`
		State  string `json:"state"`
	}
)
