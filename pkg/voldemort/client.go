package voldemort

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// metadataStoreName is the pseudo-store bootstrap get requests are issued
// against.
const metadataStoreName = "metadata"

type bootstrapState int32

const (
	bootstrapNotStarted bootstrapState = iota
	bootstrapStarted
	bootstrapClusterInfoOk
	bootstrapComplete
	bootstrapFailed
)

func (s bootstrapState) String() string {
	switch s {
	case bootstrapNotStarted:
		return "not-started"
	case bootstrapStarted:
		return "started"
	case bootstrapClusterInfoOk:
		return "cluster-info-ok"
	case bootstrapComplete:
		return "complete"
	case bootstrapFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cluster is the coordinator: it owns bootstrap, topology, the store
// registry, and every persistent Connection, and implements the replica
// retry policy on top of them.
type Cluster struct {
	seedAddr string
	opts     ClusterOptions

	mu       sync.Mutex
	topology *ClusterTopology
	stores   map[string]*storeEntry
	conns    map[string]*Connection

	state        atomic.Int32
	bootstrapMu  sync.Mutex
	bootstrapFut *Future[struct{}]

	stopc     chan struct{}
	closeOnce sync.Once
	closeFut  *Future[struct{}]
}

// NewCluster builds a Cluster against the given seed address. Connect must
// be called (directly, or implicitly via a Store's first Get) before any
// request can be served.
func NewCluster(opts ClusterOptions) (*Cluster, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if opts.Host == "" || opts.Port == 0 {
		return nil, NewClientError("cluster requires a seed host and port")
	}
	return &Cluster{
		opts:     opts,
		seedAddr: fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		stores:   make(map[string]*storeEntry),
		conns:    make(map[string]*Connection),
		stopc:    make(chan struct{}),
	}, nil
}

// Connect kicks off (or returns the in-progress/most recent) bootstrap
// attempt, retrying every BootstrapRetryInterval until one succeeds. The
// same Future is shared by every caller parked behind a given attempt, so
// concurrent callers never trigger redundant bootstrap attempts.
func (c *Cluster) Connect() *Future[struct{}] {
	c.bootstrapMu.Lock()
	defer c.bootstrapMu.Unlock()
	if bootstrapState(c.state.Load()) == bootstrapComplete {
		return c.bootstrapFut
	}
	if c.bootstrapFut == nil {
		c.bootstrapFut = NewFuture[struct{}]()
		go c.runBootstrapLoop()
	}
	return c.bootstrapFut
}

func (c *Cluster) runBootstrapLoop() {
	for {
		err := c.attemptBootstrap()
		if err == nil {
			c.bootstrapMu.Lock()
			fut := c.bootstrapFut
			c.bootstrapMu.Unlock()
			c.opts.Logger.Log(LogLevelInfo, "bootstrap complete", "seed", c.seedAddr)
			fut.Succeed(struct{}{})
			return
		}

		c.opts.Logger.Log(LogLevelWarn, "bootstrap attempt failed, retrying", "seed", c.seedAddr, "err", err, "retry_in", c.opts.BootstrapRetryInterval)
		t := time.NewTimer(c.opts.BootstrapRetryInterval)
		select {
		case <-t.C:
			continue
		case <-c.stopc:
			t.Stop()
			c.bootstrapMu.Lock()
			fut := c.bootstrapFut
			c.bootstrapMu.Unlock()
			fut.Fail(ErrShutdownRequested)
			return
		}
	}
}

// attemptBootstrap runs one pass of the bootstrap sequence: fetch
// cluster.xml, parse topology, fetch stores.xml, parse and validate every
// store config, then install the result.
func (c *Cluster) attemptBootstrap() error {
	c.state.Store(int32(bootstrapStarted))

	clusterXML, err := fetchMetadata(c.seedAddr, c.opts, "cluster.xml")
	if err != nil {
		c.state.Store(int32(bootstrapFailed))
		return WrapServerError(err, "fetching cluster.xml")
	}
	topology, err := parseClusterXML(clusterXML)
	if err != nil {
		c.state.Store(int32(bootstrapFailed))
		return err
	}
	c.state.Store(int32(bootstrapClusterInfoOk))

	storesXML, err := fetchMetadata(c.seedAddr, c.opts, "stores.xml")
	if err != nil {
		c.state.Store(int32(bootstrapFailed))
		return WrapServerError(err, "fetching stores.xml")
	}
	configs, err := parseStoresXML(storesXML)
	if err != nil {
		c.state.Store(int32(bootstrapFailed))
		return err
	}

	entries := make(map[string]*storeEntry, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			c.state.Store(int32(bootstrapFailed))
			return err
		}
		entry, err := newStoreEntry(cfg)
		if err != nil {
			c.state.Store(int32(bootstrapFailed))
			return err
		}
		entries[cfg.Name] = entry
	}

	c.installTopology(topology, entries)
	c.state.Store(int32(bootstrapComplete))
	return nil
}

// installTopology swaps in the newly bootstrapped topology/store registry
// and opens persistent connections to every node, closing whatever
// connections served the previous topology. The swap itself is atomic: a
// concurrent reader never observes a topology paired with the wrong
// connection set.
func (c *Cluster) installTopology(topology *ClusterTopology, stores map[string]*storeEntry) {
	newConns := make(map[string]*Connection, len(topology.Nodes))
	for _, id := range topology.nodeIDsSorted() {
		node := topology.Nodes[id]
		addr := fmt.Sprintf("%s:%d", node.Host, node.Port)
		newConns[id] = newConnection(id, addr, c.opts)
	}

	c.mu.Lock()
	oldConns := c.conns
	c.topology = topology
	c.stores = stores
	c.conns = newConns
	c.mu.Unlock()

	for _, conn := range oldConns {
		conn.Close()
	}
}

func (c *Cluster) getTopology() *ClusterTopology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topology
}

func (c *Cluster) getStoreEntry(name string) (*storeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.stores[name]
	return e, ok
}

func (c *Cluster) connectionsFor(topology *ClusterTopology, partitionIDs []int) []*Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := make([]*Connection, 0, len(partitionIDs))
	for _, p := range partitionIDs {
		nodeID := topology.Ring[p]
		if conn, ok := c.conns[nodeID]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Store returns a facade for the named store. The store's existence is not
// checked until the first Get, which parks behind Connect if bootstrap
// hasn't completed yet.
func (c *Cluster) Store(name string) *Store {
	return &Store{cluster: c, name: name}
}

// Close gracefully shuts every persistent connection down and resolves once
// all of them have. Subsequent calls return the same Future.
func (c *Cluster) Close() *Future[struct{}] {
	c.closeOnce.Do(func() {
		c.closeFut = NewFuture[struct{}]()
		close(c.stopc)
		c.mu.Lock()
		conns := c.conns
		c.mu.Unlock()
		go func() {
			for _, conn := range conns {
				conn.Close().Wait()
			}
			c.closeFut.Succeed(struct{}{})
		}()
	})
	return c.closeFut
}

// ClusterStats is a point-in-time health snapshot: the kind of
// introspection operators need in practice.
type ClusterStats struct {
	BootstrapState string
	NodeHealth     map[string]string
}

// Stats reports the current bootstrap state and per-node connection
// health.
func (c *Cluster) Stats() ClusterStats {
	c.mu.Lock()
	conns := c.conns
	c.mu.Unlock()
	nodes := make(map[string]string, len(conns))
	for id, conn := range conns {
		nodes[id] = conn.Health()
	}
	return ClusterStats{
		BootstrapState: bootstrapState(c.state.Load()).String(),
		NodeHealth:     nodes,
	}
}

// routeAndSend implements the routed path of the replica retry policy: it
// derives the preference list for keyBytes and dispatches through
// sendWithRetry.
func (c *Cluster) routeAndSend(entry *storeEntry, keyBytes []byte) *Future[[]byte] {
	result := NewFuture[[]byte]()
	topology := c.getTopology()
	if topology == nil {
		result.Fail(ErrBootstrapFailed)
		return result
	}
	prefs, err := PreferenceList(keyBytes, topology.Ring, entry.config.ReplicationFactor)
	if err != nil {
		result.Fail(err)
		return result
	}
	conns := c.connectionsFor(topology, prefs)
	body := buildGet(entry.config.Name, keyBytes)
	c.sendWithRetry(conns, body, result)
	return result
}

// randomSend implements the "no router" fallback: sample up to two distinct
// connections uniformly and try them in sequence.
func (c *Cluster) randomSend(entry *storeEntry, keyBytes []byte) *Future[[]byte] {
	body := buildGet(entry.config.Name, keyBytes)
	return c.sendRandom(body)
}

func (c *Cluster) sendRandom(body []byte) *Future[[]byte] {
	result := NewFuture[[]byte]()
	c.mu.Lock()
	conns := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	if len(conns) == 0 {
		result.Fail(ErrNoViableReplica)
		return result
	}
	rand.Shuffle(len(conns), func(i, j int) { conns[i], conns[j] = conns[j], conns[i] })
	if len(conns) > 2 {
		conns = conns[:2]
	}
	c.sendSequential(conns, body, result)
	return result
}

// sendWithRetry picks between the sequential and fan-out-parallel paths
// based on the first preference's health.
func (c *Cluster) sendWithRetry(conns []*Connection, body []byte, result *Future[[]byte]) {
	if len(conns) == 0 {
		result.Fail(ErrNoViableReplica)
		return
	}
	if conns[0].IsHealthy() {
		c.sendSequential(conns, body, result)
		return
	}
	c.sendParallel(conns, body, result)
}

// sendSequential tries conns[0]; a client-class error fails immediately
// with no further attempts, a server-class error recurses into the rest of
// the list.
func (c *Cluster) sendSequential(conns []*Connection, body []byte, result *Future[[]byte]) {
	if len(conns) == 0 {
		result.Fail(ErrNoViableReplica)
		return
	}
	head := conns[0]
	fut := head.Submit(body)
	fut.OnSuccess(result.Succeed)
	fut.OnFailure(func(err error) {
		if isClientClass(err) {
			result.Fail(err)
			return
		}
		if len(conns) == 1 {
			result.Fail(err)
			return
		}
		c.sendSequential(conns[1:], body, result)
	})
}

// sendParallel fans the request out to every connection in conns at once:
// the first success wins, the first client-class error wins and cancels
// the outcome, and if every attempt fails with a server-class error the
// last one observed is reported.
func (c *Cluster) sendParallel(conns []*Connection, body []byte, result *Future[[]byte]) {
	var mu sync.Mutex
	remaining := len(conns)
	var lastServerErr error
	settled := false

	for _, conn := range conns {
		fut := conn.Submit(body)
		fut.OnSuccess(func(v []byte) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			settled = true
			result.Succeed(v)
		})
		fut.OnFailure(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			if isClientClass(err) {
				settled = true
				result.Fail(err)
				return
			}
			lastServerErr = err
			remaining--
			if remaining == 0 {
				settled = true
				result.Fail(lastServerErr)
			}
		})
	}
}

func isClientClass(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// fetchMetadata opens a transient connection to addr, performs the protocol
// handshake, and issues a single GET against the built-in "metadata" store
// for key. It mirrors Connection's own Connecting/ProtocolProposal/Request
// handshake but as a one-shot call with no reconnect or queueing.
func fetchMetadata(addr string, opts ClusterOptions, key string) ([]byte, error) {
	d := net.Dialer{Timeout: opts.RequestTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, WrapServerError(err, "dialing bootstrap seed")
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(opts.ProtocolTag)); err != nil {
		return nil, WrapServerError(err, "sending protocol tag to seed")
	}
	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, WrapServerError(err, "reading protocol reply from seed")
	}
	if string(reply) != "ok" {
		return nil, NewServerError(fmt.Sprintf("seed rejected protocol negotiation: %q", reply))
	}

	body := buildGet(metadataStoreName, []byte(key))
	if _, err := conn.Write(frameBody(body)); err != nil {
		return nil, WrapServerError(err, "sending bootstrap request")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, WrapServerError(err, "reading bootstrap response length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	respBody := make([]byte, n)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		return nil, WrapServerError(err, "reading bootstrap response body")
	}

	return parseGet(respBody)
}

// NewFromURL is a convenience factory accepting a URL of the form
// voldemort://host:port/store. It blocks until bootstrap completes and
// returns a ready-to-use Store facade.
func NewFromURL(rawURL string) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, WrapClientError(err, "parsing cluster URL")
	}
	if u.Scheme != "voldemort" {
		return nil, NewClientError("cluster URL scheme must be \"voldemort\", got " + strconv.Quote(u.Scheme))
	}
	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return nil, NewClientError("cluster URL must include host and port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, WrapClientError(err, "parsing cluster URL port")
	}
	storeName := strings.Trim(u.Path, "/")
	if storeName == "" {
		return nil, NewClientError("cluster URL must include a store name path")
	}

	cluster, err := NewCluster(ClusterOptions{Host: host, Port: port})
	if err != nil {
		return nil, err
	}
	if _, err := cluster.Connect().Wait(); err != nil {
		return nil, err
	}
	return cluster.Store(storeName), nil
}
