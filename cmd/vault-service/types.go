package main

import (
	"time"

	"fluxsdk/pkg/vault"
)

type VaultResponse struct {
	vault.Summary
	Cached bool `json:"cached"`
}

type VaultsResponse struct {
	Vaults []*VaultResponse `json:"vaults"`
	Failed []string         `json:"failed,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Watched     int       `json:"watched"`
	LastPush    time.Time `json:"lastPush"`
	PushesTotal uint64    `json:"pushesTotal"`
	Uptime      string    `json:"uptime"`
}
