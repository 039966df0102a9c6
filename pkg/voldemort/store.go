package voldemort

// storeEntry is the cluster-resolved form of a StoreConfig: compiled
// schemas and compressors ready to encode/decode without re-parsing schema
// text on every call.
type storeEntry struct {
	config          StoreConfig
	keySchema       *RecordSchema
	valueSchema     *RecordSchema
	keyCompressor   Compressor
	valueCompressor Compressor
}

func newStoreEntry(cfg StoreConfig) (*storeEntry, error) {
	keySchema, err := cfg.KeySerializer.buildRecordSchema()
	if err != nil {
		return nil, err
	}
	valueSchema, err := cfg.ValueSerializer.buildRecordSchema()
	if err != nil {
		return nil, err
	}
	keyCompressor, err := NewCompressor(cfg.KeyCompressor.Type)
	if err != nil {
		return nil, err
	}
	valueCompressor, err := NewCompressor(cfg.ValueCompressor.Type)
	if err != nil {
		return nil, err
	}
	return &storeEntry{
		config:          cfg,
		keySchema:       keySchema,
		valueSchema:     valueSchema,
		keyCompressor:   keyCompressor,
		valueCompressor: valueCompressor,
	}, nil
}

// Store is a per-store facade holding a non-owning reference back to its
// Cluster, created cheaply by Cluster.Store and only resolved against live
// metadata when Get is called.
type Store struct {
	cluster *Cluster
	name    string
}

type sendFunc func(entry *storeEntry, keyBytes []byte) *Future[[]byte]

// Get encodes key, routes and sends the request through the cluster's
// replica retry policy, and decodes the resulting value — parking behind
// the cluster's bootstrap future if metadata has not yet loaded.
func (s *Store) Get(key interface{}) *Future[interface{}] {
	return s.get(key, s.cluster.routeAndSend)
}

// GetAnyReplica is Get, but bypasses routing and samples up to two random
// connections instead.
func (s *Store) GetAnyReplica(key interface{}) *Future[interface{}] {
	return s.get(key, s.cluster.randomSend)
}

func (s *Store) get(key interface{}, send sendFunc) *Future[interface{}] {
	result := NewFuture[interface{}]()
	boot := s.cluster.Connect()
	boot.OnFailure(func(err error) {
		result.Fail(WrapServerError(err, "bootstrap did not complete"))
	})
	boot.OnSuccess(func(struct{}) {
		s.doGet(key, send, result)
	})
	return result
}

func (s *Store) doGet(key interface{}, send sendFunc, result *Future[interface{}]) {
	entry, ok := s.cluster.getStoreEntry(s.name)
	if !ok {
		result.Fail(NewClientError("unknown store: " + s.name))
		return
	}
	if entry.config.Persistence != "read-only" {
		result.Fail(NewClientError("store " + s.name + " is not read-only"))
		return
	}

	encodedKey, err := encodeWith(entry.keySchema, key)
	if err != nil {
		result.Fail(err)
		return
	}
	compressedKey, err := entry.keyCompressor.Encode(encodedKey)
	if err != nil {
		result.Fail(err)
		return
	}

	fut := send(entry, compressedKey)
	fut.OnFailure(result.Fail)
	fut.OnSuccess(func(raw []byte) {
		decompressed, err := entry.valueCompressor.Decode(raw)
		if err != nil {
			result.Fail(err)
			return
		}
		if entry.valueSchema == nil {
			result.Succeed(decompressed)
			return
		}
		value, err := entry.valueSchema.Decode(decompressed)
		if err != nil {
			result.Fail(err)
			return
		}
		result.Succeed(value)
	})
}

// encodeWith encodes key through schema, or requires key already be []byte
// when the serializer is identity.
func encodeWith(schema *RecordSchema, key interface{}) ([]byte, error) {
	if schema != nil {
		return schema.Encode(key)
	}
	raw, ok := key.([]byte)
	if !ok {
		return nil, NewClientError("identity key serializer requires a []byte key")
	}
	return raw, nil
}
