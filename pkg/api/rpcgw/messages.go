package rpcgw

import "github.com/cuemby/kestrel/pkg/types"

// Request/response structs for the hand-registered ServiceDesc. These
// stand in for generated protobuf types: the jsonCodec marshals them
// directly, so field names are the wire format.

type DeployRequest struct {
	Tenant string `json:"tenant"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Format string `json:"format"`
}

type DeployResponse struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
}

type SwapRequest struct {
	Tenant   string `json:"tenant"`
	Service  string `json:"service"`
	Code     string `json:"code"`
	Format   string `json:"format"`
	WindowMs int64  `json:"window_ms"`
}

type ReplaceRequest struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Code    string `json:"code"`
	Format  string `json:"format"`
}

type StatusRequest struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
}

type StatusResponse struct {
	types.WorkerStatus
}

type KillRequest struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
}

type ListRequest struct {
	Tenant string `json:"tenant"`
	Name   string `json:"name"`
}

type ListResponse struct {
	Services []types.ServiceRef `json:"services"`
}

type SetSecretRequest struct {
	Tenant    string `json:"tenant"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	MasterKey string `json:"master_key"`
}

type GetSecretRequest struct {
	Tenant    string `json:"tenant"`
	Name      string `json:"name"`
	MasterKey string `json:"master_key"`
}

type GetSecretResponse struct {
	Value string `json:"value"`
}

type DeleteSecretRequest struct {
	Tenant string `json:"tenant"`
	Name   string `json:"name"`
}

type ListSecretsRequest struct {
	Tenant string `json:"tenant"`
}

type ListSecretsResponse struct {
	Names []string `json:"names"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Components map[string]bool `json:"components"`
}

type WatchEventsRequest struct {
	Tenant  string `json:"tenant"`
	Subject string `json:"subject"`
}

type Empty struct{}
