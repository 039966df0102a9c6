package voldemort

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alreadyBootstrappedCluster builds a Cluster whose Connect() resolves
// immediately, wired directly to the given topology/stores/conns without
// going through a real bootstrap fetch — the Store-facade tests only care
// about what happens once metadata is loaded.
func alreadyBootstrappedCluster(opts ClusterOptions, topology *ClusterTopology, stores map[string]*storeEntry, conns map[string]*Connection) *Cluster {
	c := &Cluster{
		opts:     opts,
		topology: topology,
		stores:   stores,
		conns:    conns,
	}
	c.state.Store(int32(bootstrapComplete))
	fut := NewFuture[struct{}]()
	fut.Succeed(struct{}{})
	c.bootstrapFut = fut
	return c
}

func TestDoGetUnknownStoreFails(t *testing.T) {
	cluster := alreadyBootstrappedCluster(testOptions(), nil, map[string]*storeEntry{}, nil)
	store := cluster.Store("missing")

	result := NewFuture[interface{}]()
	store.doGet([]byte("k"), cluster.routeAndSend, result)

	_, err := waitFuture(t, result, time.Second)
	require.Error(t, err)
	var ce *ClientError
	assert.ErrorAs(t, err, &ce)
}

func TestDoGetRejectsNonReadOnlyStore(t *testing.T) {
	entry := &storeEntry{config: StoreConfig{Name: "s", Persistence: "bdb"}}
	cluster := alreadyBootstrappedCluster(testOptions(), nil, map[string]*storeEntry{"s": entry}, nil)
	store := cluster.Store("s")

	result := NewFuture[interface{}]()
	store.doGet([]byte("k"), cluster.routeAndSend, result)

	_, err := waitFuture(t, result, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not read-only")
}

func TestDoGetIdentityKeyRequiresByteSliceKey(t *testing.T) {
	entry := &storeEntry{
		config:          StoreConfig{Name: "s", Persistence: "read-only"},
		keyCompressor:   identityCompressor{},
		valueCompressor: identityCompressor{},
	}
	cluster := alreadyBootstrappedCluster(testOptions(), nil, map[string]*storeEntry{"s": entry}, nil)
	store := cluster.Store("s")

	result := NewFuture[interface{}]()
	store.doGet("not-bytes", cluster.routeAndSend, result)

	_, err := waitFuture(t, result, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity key serializer")
}

func TestStoreGetEndToEndDecodesValueSchema(t *testing.T) {
	cfg := StoreConfig{
		Name:              "s",
		Persistence:       "read-only",
		RoutingStrategy:   RoutingStrategyConsistent,
		ReplicationFactor: 1,
		KeySerializer:     SerializerSpec{Type: "identity"},
		ValueSerializer: SerializerSpec{
			Type:          "json",
			HasVersionTag: true,
			Schemas:       map[int]string{0: `"string"`},
		},
	}
	entry, err := newStoreEntry(cfg)
	require.NoError(t, err)

	encodedValue, err := entry.valueSchema.Encode("hello")
	require.NoError(t, err)

	addr, closeServer := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		acceptAndNegotiateOK(t, conn)
		req, err := readFrame(conn)
		require.NoError(t, err)
		store, key := parseRequestStoreAndKey(t, req)
		require.Equal(t, "s", store)
		require.Equal(t, []byte("mykey"), key)

		resp := appendVersioned(nil, encodedValue, 1, true)
		writeFrame(conn, resp)
	})
	defer closeServer()

	opts := testOptions()
	conn := newConnection("0", addr, opts)
	defer conn.Close()
	waitUntil(t, time.Second, conn.IsHealthy)

	topology := &ClusterTopology{
		Name:  "t",
		Nodes: map[string]*NodeDescriptor{"0": {NodeID: "0"}},
		Ring:  []string{"0"},
	}
	cluster := alreadyBootstrappedCluster(opts, topology, map[string]*storeEntry{"s": entry}, map[string]*Connection{"0": conn})
	store := cluster.Store("s")

	value, err := waitFuture(t, store.Get([]byte("mykey")), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)
}

func TestStoreGetAnyReplicaUsesRandomFallback(t *testing.T) {
	cfg := StoreConfig{
		Name:              "s",
		Persistence:       "read-only",
		RoutingStrategy:   RoutingStrategyConsistent,
		ReplicationFactor: 1,
		KeySerializer:     SerializerSpec{Type: "identity"},
		ValueSerializer:   SerializerSpec{Type: "identity"},
	}
	entry, err := newStoreEntry(cfg)
	require.NoError(t, err)

	addr, closeServer := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		acceptAndNegotiateOK(t, conn)
		req, err := readFrame(conn)
		require.NoError(t, err)
		_, key := parseRequestStoreAndKey(t, req)
		resp := appendVersioned(nil, key, 1, true)
		writeFrame(conn, resp)
	})
	defer closeServer()

	opts := testOptions()
	conn := newConnection("0", addr, opts)
	defer conn.Close()
	waitUntil(t, time.Second, conn.IsHealthy)

	// No topology is installed: GetAnyReplica must not need PreferenceList
	// routing, only the live connection set.
	cluster := alreadyBootstrappedCluster(opts, nil, map[string]*storeEntry{"s": entry}, map[string]*Connection{"0": conn})
	store := cluster.Store("s")

	value, err := waitFuture(t, store.GetAnyReplica([]byte("raw-key")), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-key"), value)
}

func TestEncodeWithIdentityRejectsNonBytes(t *testing.T) {
	_, err := encodeWith(nil, 42)
	require.Error(t, err)
}

func TestEncodeWithSchemaEncodes(t *testing.T) {
	schema := &RecordSchema{HasVersionTag: false, Versions: map[int]*Schema{0: PrimitiveSchema("int32")}}
	encoded, err := encodeWith(schema, int32(7))
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}
