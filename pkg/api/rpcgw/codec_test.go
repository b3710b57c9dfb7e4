package rpcgw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	var codec jsonCodec
	assert.Equal(t, "json", codec.Name())

	req := DeployRequest{Tenant: "acme", Name: "svc", Code: "function handle(m){return m;}", Format: "js"}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var decoded DeployRequest
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, req, decoded)
}

func TestJSONCodecRejectsMalformedPayload(t *testing.T) {
	var codec jsonCodec
	var decoded DeployRequest
	err := codec.Unmarshal([]byte("not json"), &decoded)
	require.Error(t, err)
}
