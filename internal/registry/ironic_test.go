package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIronic_GetNode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nodes/n1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "1.6", r.Header.Get("X-OpenStack-Ironic-API-Version"))

		json.NewEncoder(w).Encode(map[string]any{
			"uuid":        "n1",
			"driver_info": map[string]any{"ipmi_address": "10.1.0.10"},
			"properties":  map[string]any{"cpus": "4"},
		})
	}))
	defer server.Close()

	c := NewIronic(server.URL+"/", WithAuthToken("secret"), WithAPIVersion("1.6"))
	node, err := c.GetNode(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.UUID)
	assert.True(t, node.HasProperty("cpus"))
	assert.False(t, node.HasProperty("memory_mb"))
	assert.Equal(t, "10.1.0.10", node.DriverInfo["ipmi_address"])
}

func TestIronic_PatchConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var patch Patch
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		assert.Equal(t, Patch{Add("/properties/cpus", "4")}, patch)

		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error_message": "{\"faultstring\": \"Node n1 is locked by host conductor-1\"}"}`))
	}))
	defer server.Close()

	c := NewIronic(server.URL)
	_, err := c.PatchNode(context.Background(), "n1", Patch{Add("/properties/cpus", "4")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, IsConflict(err))
	assert.False(t, errors.Is(err, ErrNotFound))

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "Node n1 is locked by host conductor-1", httpErr.Message)
}

func TestIronic_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such node", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewIronic(server.URL).GetNode(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "no such node")
}

func TestIronic_ListPortsPaginates(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ports", r.URL.Path)
		assert.Equal(t, "n1", r.URL.Query().Get("node_uuid"))

		if r.URL.Query().Get("marker") == "" {
			json.NewEncoder(w).Encode(portList{
				Ports: []Port{{UUID: "p1", Address: "aa:bb:cc:dd:ee:ff"}},
				Next:  server.URL + "/v1/ports?node_uuid=n1&limit=0&marker=p1",
			})
			return
		}
		json.NewEncoder(w).Encode(portList{
			Ports: []Port{{UUID: "p2", Address: "11:22:33:44:55:66"}},
		})
	}))
	defer server.Close()

	ports, err := NewIronic(server.URL).ListPorts(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "p1", ports[0].UUID)
	assert.Equal(t, "p2", ports[1].UUID)
}

func TestIronic_NodeActions(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, r.Method+" "+r.URL.Path)

		switch r.URL.Path {
		case "/v1/nodes/n1/management/boot_device":
			assert.Equal(t, "pxe", body["boot_device"])
			assert.Equal(t, false, body["persistent"])
			w.WriteHeader(http.StatusNoContent)
		case "/v1/nodes/n1/states/power":
			assert.Equal(t, "reboot", body["target"])
			w.WriteHeader(http.StatusAccepted)
		case "/v1/ports":
			assert.Equal(t, "n1", body["node_uuid"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Port{UUID: "p9", Address: body["address"].(string)})
		case "/v1/ports/p9":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := NewIronic(server.URL)
	require.NoError(t, c.SetBootDevice(ctx, "n1", "pxe"))
	require.NoError(t, c.SetPowerState(ctx, "n1", "reboot"))
	port, err := c.CreatePort(ctx, "n1", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "p9", port.UUID)
	require.NoError(t, c.DeletePort(ctx, "p9"))

	assert.Equal(t, []string{
		"PUT /v1/nodes/n1/management/boot_device",
		"PUT /v1/nodes/n1/states/power",
		"POST /v1/ports",
		"DELETE /v1/ports/p9",
	}, calls)
}

type fakeActive []ActiveNode

func (f fakeActive) ListActive(context.Context) ([]ActiveNode, error) {
	return f, nil
}

func TestService_ListActiveNodes(t *testing.T) {
	want := []ActiveNode{{UUID: "n1", ExpectedAddresses: []string{"aa:bb:cc:dd:ee:ff"}}}
	svc := NewService(NewIronic("http://127.0.0.1:1"), fakeActive(want))

	got, err := svc.ListActiveNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
