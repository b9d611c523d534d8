package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchOp_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		op   PatchOp
		want string
	}{
		{"add empty string", Add("/extra/x", ""), `{"op":"add","path":"/extra/x","value":""}`},
		{"add zero", Add("/properties/local_gb", 0), `{"op":"add","path":"/properties/local_gb","value":0}`},
		{"replace false", Replace("/extra/seen", false), `{"op":"replace","path":"/extra/seen","value":false}`},
		{"add nil", Add("/extra/x", nil), `{"op":"add","path":"/extra/x","value":null}`},
		{"remove", Remove("/extra/x"), `{"op":"remove","path":"/extra/x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.op)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestPatch_MarshalJSONInList(t *testing.T) {
	data, err := json.Marshal(Patch{Add("/properties/cpus", "0"), Replace("/extra/n", 0), Remove("/extra/y")})
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"op":"add","path":"/properties/cpus","value":"0"},
		{"op":"replace","path":"/extra/n","value":0},
		{"op":"remove","path":"/extra/y"}
	]`, string(data))
}
