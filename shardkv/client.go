/*
Package shardkv implements a sharded key/value store replicated with a
primary/backup scheme. It handles client key-value operations
(Put, Append, Get), routes each request to the replicas of the key's
shard, and deduplicates retried writes so they apply exactly once.
*/
package shardkv

//
// client code to talk to the sharded key/value service.
//
// the client computes the shard for each key and tries the shard's
// replicas in turn, starting with whichever one answered last time.
// writes carry a per-clerk sequence number so the servers can
// recognize a retry and answer it from the deduplication table
// instead of applying it again.
//

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"csce438/kvsRPC"
)

// keyID maps a key to a stable, non-negative integer. Keys made up
// entirely of digits map to their numeric value; any other key maps
// to the sum of its byte values.
func keyID(key string) int {
	digits := len(key) > 0
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			digits = false
			break
		}
	}
	if digits {
		if v, err := strconv.Atoi(key); err == nil {
			return v
		}
	}
	id := 0
	for i := 0; i < len(key); i++ {
		id += int(key[i])
	}
	return id
}

// key2shard determines which shard a given key belongs to. The shard
// index doubles as the index of the shard's primary server.
func key2shard(key string, nservers int) int {
	return keyID(key) % nservers
}

// nrand generates a random int64 number.
func nrand() int64 {
	max := big.NewInt(int64(1) << 62)
	bigx, _ := rand.Int(rand.Reader, max)
	x := bigx.Int64()
	return x
}

// Clerk represents a client of the sharded key/value service.
type Clerk struct {
	servers   []kvsRPC.RPCClient // one client per server, indexed like the cluster
	nservers  int
	nreplicas int

	mu          sync.Mutex
	clerkId     int64
	seq         int64
	lastReplica map[int]int // shard -> offset of the replica that last answered

	logger *Logger
}

// MakeClerk creates a new Clerk instance for the cluster cfg
// describes. The tester calls this with clients wrapping ends on
// cfg's simulated network.
func MakeClerk(servers []kvsRPC.RPCClient, cfg *Config) *Clerk {
	return makeClerk(servers, cfg.nservers, cfg.nreplicas)
}

// MakeNetClerk creates a Clerk that talks net/rpc to running servers,
// one address per server index.
func MakeNetClerk(addrs []string, nreplicas int) (*Clerk, error) {
	servers := make([]kvsRPC.RPCClient, len(addrs))
	for i, addr := range addrs {
		c, err := kvsRPC.NewNetRPCClient(addr)
		if err != nil {
			return nil, err
		}
		servers[i] = c
	}
	return makeClerk(servers, len(addrs), nreplicas), nil
}

func makeClerk(servers []kvsRPC.RPCClient, nservers int, nreplicas int) *Clerk {
	ck := &Clerk{
		servers:     servers,
		nservers:    nservers,
		nreplicas:   nreplicas,
		clerkId:     nrand(),
		seq:         0,
		lastReplica: make(map[int]int),
	}

	logger, err := NewLogger(1)
	if err != nil {
		fmt.Println("Couldn't open the log file", err)
	}
	ck.logger = logger

	return ck
}

// callShard runs one RPC against shard's replica set: start with the
// replica that answered last time, fall back through the rest of the
// set, and keep sweeping until someone replies or the deadline
// passes.
func (ck *Clerk) callShard(svcMeth string, args interface{}, reply interface{}, shard int) error {
	ck.mu.Lock()
	offset := ck.lastReplica[shard]
	ck.mu.Unlock()

	deadline := time.Now().Add(WaitTimeOut)
	for time.Now().Before(deadline) {
		for attempt := 0; attempt < ck.nreplicas; attempt++ {
			replica := (shard + (offset+attempt)%ck.nreplicas) % ck.nservers
			ok, _ := ck.servers[replica].Call(svcMeth, args, reply)
			if ok {
				ck.mu.Lock()
				ck.lastReplica[shard] = (offset + attempt) % ck.nreplicas
				ck.mu.Unlock()
				ck.logger.Log(LogTopicClerk, fmt.Sprintf("C%d %s served by S%d", ck.clerkId, svcMeth, replica))
				return nil
			}
		}
		time.Sleep(RetryInterval)
	}

	ck.logger.Log(LogTopicClerk, fmt.Sprintf("C%d %s failed across all replicas within deadline", ck.clerkId, svcMeth))
	return ErrTimeOut
}

// Get fetches the current value for a key.
// Returns "" if the key does not exist.
// Fails with ErrTimeOut once every replica of the key's shard has
// been unreachable for the whole deadline.
func (ck *Clerk) Get(key string) (string, error) {
	shard := key2shard(key, ck.nservers)
	args := GetArgs{
		Key: key,
	}

	var reply GetReply
	if err := ck.callShard("KVServer.Get", &args, &reply, shard); err != nil {
		return "", err
	}
	return reply.Value, nil
}

// putAppend is shared by Put and Append operations. Each invocation
// takes a fresh sequence number; the retries inside callShard reuse
// it, so the servers can tell a retry from a new request.
func (ck *Clerk) putAppend(key string, value string, op string) (string, error) {
	shard := key2shard(key, ck.nservers)

	ck.mu.Lock()
	ck.seq++
	args := PutAppendArgs{
		Key:     key,
		Value:   value,
		ClerkId: ck.clerkId,
		Seq:     ck.seq,
	}
	ck.mu.Unlock()

	var reply PutAppendReply
	if err := ck.callShard("KVServer."+op, &args, &reply, shard); err != nil {
		return "", err
	}
	return reply.Value, nil
}

// Put stores a key-value pair in the key/value store.
func (ck *Clerk) Put(key string, value string) error {
	_, err := ck.putAppend(key, value, "Put")
	return err
}

// Append appends a value to an existing key in the key/value store
// and returns the value the key held beforehand.
func (ck *Clerk) Append(key string, value string) (string, error) {
	return ck.putAppend(key, value, "Append")
}
