package shardkv

//
// support for shardkv tests and deployments: builds a cluster of
// KVServers wired to a simulated network, hands out Clerks, and lets
// the tests knock servers out, cut individual client links, and audit
// how many operations the cluster actually applied.
//

import (
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"csce438/kvsRPC"
	"csce438/labrpc"
)

func randstring(n int) string {
	b := make([]byte, 2*n)
	crand.Read(b)
	s := base64.URLEncoding.EncodeToString(b)
	return s[0:n]
}

func makeSeed() int64 {
	max := big.NewInt(int64(1) << 62)
	bigx, _ := crand.Int(crand.Reader, max)
	x := bigx.Int64()
	return x
}

// Config describes a running cluster: its servers, the network that
// connects them, and which servers are currently up.
type Config struct {
	mu        sync.Mutex
	t         *testing.T
	net       *labrpc.Network
	nservers  int
	nreplicas int
	kvservers []*KVServer
	running   map[int]bool        // servers currently reachable
	endnames  map[*Clerk][]string // each clerk's endpoint name per server
	ops       int32               // applied client operations

	start time.Time // time at which MakeConfig() was called
	// begin()/end() statistics
	t0    time.Time // time at which test_test.go called cfg.begin()
	rpcs0 int       // rpcTotal() at start of test
	ops0  int32     // ops at start of test
}

var ncpu_once sync.Once

// MakeConfig starts a cluster of n servers in which every shard is
// kept on nreplicas servers. Pass t == nil when building a cluster
// outside a test binary.
func MakeConfig(t *testing.T, n int, nreplicas int, unreliable bool) *Config {
	ncpu_once.Do(func() {
		if runtime.NumCPU() < 2 {
			fmt.Printf("warning: only one CPU, which may conceal locking bugs\n")
		}
		rand.Seed(makeSeed())
	})
	runtime.GOMAXPROCS(4)

	if nreplicas < 1 || nreplicas > n {
		panic(fmt.Sprintf("MakeConfig: nreplicas %v out of range [1, %v]", nreplicas, n))
	}

	cfg := &Config{}
	cfg.t = t
	cfg.net = labrpc.MakeNetwork()
	cfg.nservers = n
	cfg.nreplicas = nreplicas
	cfg.kvservers = make([]*KVServer, n)
	cfg.running = make(map[int]bool)
	cfg.endnames = make(map[*Clerk][]string)
	cfg.start = time.Now()

	for i := 0; i < n; i++ {
		cfg.kvservers[i] = StartKVServer(cfg, i)
		srv := labrpc.MakeServer()
		srv.AddService(labrpc.MakeService(cfg.kvservers[i]))
		cfg.net.AddServer(i, srv)
		cfg.running[i] = true
	}

	cfg.net.Reliable(!unreliable)
	// keep failed sends short; the retry deadlines assume an
	// unreachable server turns around quickly.
	cfg.net.LongDelays(false)

	return cfg
}

// Cleanup shuts the cluster down at the end of a test.
func (cfg *Config) Cleanup() {
	cfg.mu.Lock()
	for i := 0; i < len(cfg.kvservers); i++ {
		if cfg.kvservers[i] != nil {
			cfg.kvservers[i].Kill()
		}
	}
	cfg.mu.Unlock()

	cfg.net.Cleanup()
	cfg.checkTimeout()
}

// Server returns server i, for wiring it to an external transport.
func (cfg *Config) Server(i int) *KVServer {
	return cfg.kvservers[i]
}

// op records one applied client operation. Handlers call it when they
// serve a request for real; answers out of the deduplication table
// don't count, so tests can check exactly how many operations
// executed.
func (cfg *Config) op() {
	atomic.AddInt32(&cfg.ops, 1)
}

// Ops reports how many client operations the cluster has applied.
func (cfg *Config) Ops() int {
	return int(atomic.LoadInt32(&cfg.ops))
}

// isRunning reports whether server i is reachable; the forwarding
// path consults it before enabling an endpoint to the primary.
func (cfg *Config) isRunning(i int) bool {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return cfg.running[i]
}

// makeClient hands out a Clerk with an endpoint to every server,
// enabled for the servers that are currently up.
func (cfg *Config) makeClient() *Clerk {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	ends := make([]kvsRPC.RPCClient, cfg.nservers)
	endnames := make([]string, cfg.nservers)
	for j := 0; j < cfg.nservers; j++ {
		endnames[j] = randstring(20)
		end := cfg.net.MakeEnd(endnames[j])
		cfg.net.Connect(endnames[j], j)
		ends[j] = kvsRPC.NewLabRPCClient(end)
	}

	ck := MakeClerk(ends, cfg)
	cfg.endnames[ck] = endnames

	for j := 0; j < cfg.nservers; j++ {
		cfg.net.Enable(endnames[j], cfg.running[j])
	}

	return ck
}

// deleteClient tears down a clerk's endpoints.
func (cfg *Config) deleteClient(ck *Clerk) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	v := cfg.endnames[ck]
	for i := 0; i < len(v); i++ {
		cfg.net.DeleteEnd(v[i])
	}
	delete(cfg.endnames, ck)
}

// disconnect makes server i unreachable: every clerk loses its link
// to i, and forwarding endpoints toward i come up disabled.
func (cfg *Config) disconnect(i int) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	cfg.running[i] = false
	for _, endnames := range cfg.endnames {
		cfg.net.Enable(endnames[i], false)
	}
}

// connect restores server i for every clerk.
func (cfg *Config) connect(i int) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	cfg.running[i] = true
	for _, endnames := range cfg.endnames {
		cfg.net.Enable(endnames[i], true)
	}
}

// disconnectClient cuts ck's own link to server i. Other clerks and
// the servers themselves still reach i.
func (cfg *Config) disconnectClient(ck *Clerk, i int) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	cfg.net.Enable(cfg.endnames[ck][i], false)
}

// connectClient restores ck's link to server i, provided i is up.
func (cfg *Config) connectClient(ck *Clerk, i int) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	cfg.net.Enable(cfg.endnames[ck][i], cfg.running[i])
}

// serverValue reads key directly out of server i's store, bypassing
// the network. Tests use it to check what each replica holds.
func (cfg *Config) serverValue(i int, key string) string {
	kv := cfg.kvservers[i]
	kv.mu.Lock()
	defer kv.mu.Unlock()

	return kv.kv[key]
}

func (cfg *Config) rpcTotal() int {
	return cfg.net.GetTotalCount()
}

// checkTimeout enforces a two minute real-time limit on each test.
// Clusters built with t == nil are long-lived and exempt.
func (cfg *Config) checkTimeout() {
	if cfg.t != nil && !cfg.t.Failed() && time.Since(cfg.start) > 120*time.Second {
		cfg.t.Fatalf("test took longer than 120 seconds")
	}
}

// begin starts a test and prints its description.
func (cfg *Config) begin(description string) {
	fmt.Printf("%s ...\n", description)
	cfg.mu.Lock()
	cfg.t0 = time.Now()
	cfg.rpcs0 = cfg.rpcTotal()
	cfg.ops0 = atomic.LoadInt32(&cfg.ops)
	cfg.mu.Unlock()
}

// end a test -- the fact that we got here means there was no failure.
// print the Passed message, and some performance numbers: elapsed
// time, number of servers, RPCs sent, and operations applied.
func (cfg *Config) end() {
	cfg.checkTimeout()
	if cfg.t != nil && cfg.t.Failed() == false {
		cfg.mu.Lock()
		t := time.Since(cfg.t0).Seconds()
		nservers := cfg.nservers
		nrpc := cfg.rpcTotal() - cfg.rpcs0
		nops := atomic.LoadInt32(&cfg.ops) - cfg.ops0
		cfg.mu.Unlock()

		fmt.Printf("  ... Passed --")
		fmt.Printf("  %4.1f %d %5d %4d\n", t, nservers, nrpc, nops)
	}
}
