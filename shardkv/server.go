package shardkv

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// lastOp records the newest write a clerk has completed, paired with
// the reply to hand back if a retry of it arrives.
type lastOp struct {
	seq   int64
	reply string
}

// KVServer is one replica of the sharded store. It answers Gets for
// the shards it replicates, applies writes for the shards it leads,
// pushes applied writes to the shard's backups, and forwards
// misdirected writes to the right primary.
type KVServer struct {
	mu   sync.Mutex
	cfg  *Config
	me   int
	dead int32

	kv   map[string]string
	last map[int64]lastOp // newest write per clerk, for deduplication

	logger *Logger
}

// StartKVServer creates server me of the cluster cfg describes.
func StartKVServer(cfg *Config, me int) *KVServer {
	kv := new(KVServer)
	kv.cfg = cfg
	kv.me = me
	kv.kv = make(map[string]string)
	kv.last = make(map[int64]lastOp)

	logger, err := NewLogger(me)
	if err != nil {
		fmt.Println("Couldn't open the log file", err)
	}
	kv.logger = logger

	return kv
}

// primaryFor computes the index of the server that leads key's shard.
func (kv *KVServer) primaryFor(key string) int {
	return key2shard(key, kv.cfg.nservers)
}

// isPrimary reports whether this server leads key's shard.
func (kv *KVServer) isPrimary(key string) bool {
	return kv.me == kv.primaryFor(key)
}

// isResponsible reports whether this server belongs to key's replica
// set.
func (kv *KVServer) isResponsible(key string) bool {
	n := kv.cfg.nservers
	// Go's % can be negative; normalize into [0, n).
	offset := ((kv.me-kv.primaryFor(key))%n + n) % n
	return offset < kv.cfg.nreplicas
}

// Get returns the value stored under args.Key, or "" if the key is
// absent. Only members of the key's replica set answer; anyone else
// refuses so the Clerk's retry loop moves on to a real replica.
func (kv *KVServer) Get(args *GetArgs, reply *GetReply) error {
	if kv.killed() || !kv.isResponsible(args.Key) {
		return ErrTimeOut
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	reply.Value = kv.kv[args.Key]
	kv.cfg.op()
	kv.logger.Log(LogTopicServer, fmt.Sprintf("S%d served Get for key %s", kv.me, args.Key))
	return nil
}

// Put overwrites args.Key with args.Value. Only the shard's primary
// applies it; every other server forwards the request to the primary
// and relays the primary's reply.
func (kv *KVServer) Put(args *PutAppendArgs, reply *PutAppendReply) error {
	if kv.killed() {
		return ErrTimeOut
	}
	if !kv.isPrimary(args.Key) {
		return kv.forward("KVServer.Put", args, reply)
	}

	kv.mu.Lock()
	if last, ok := kv.last[args.ClerkId]; ok && args.Seq <= last.seq {
		reply.Value = last.reply
		kv.mu.Unlock()
		return nil
	}

	kv.kv[args.Key] = args.Value
	kv.last[args.ClerkId] = lastOp{seq: args.Seq, reply: ""}
	kv.cfg.op()
	kv.logger.Log(LogTopicServer, fmt.Sprintf("S%d applied Put for key %s, seq %d of C%d", kv.me, args.Key, args.Seq, args.ClerkId))
	kv.mu.Unlock()

	kv.replicate("Put", args.Key, args.Value, args.ClerkId, args.Seq, "")
	return nil
}

// Append concatenates args.Value onto args.Key's current content and
// returns the value the key held beforehand. Like Put it executes on
// the shard's primary only.
func (kv *KVServer) Append(args *PutAppendArgs, reply *PutAppendReply) error {
	if kv.killed() {
		return ErrTimeOut
	}
	if !kv.isPrimary(args.Key) {
		return kv.forward("KVServer.Append", args, reply)
	}

	kv.mu.Lock()
	if last, ok := kv.last[args.ClerkId]; ok && args.Seq <= last.seq {
		reply.Value = last.reply
		kv.mu.Unlock()
		return nil
	}

	old := kv.kv[args.Key]
	updated := old + args.Value
	kv.kv[args.Key] = updated
	kv.last[args.ClerkId] = lastOp{seq: args.Seq, reply: old}
	kv.cfg.op()
	kv.logger.Log(LogTopicServer, fmt.Sprintf("S%d applied Append for key %s, seq %d of C%d", kv.me, args.Key, args.Seq, args.ClerkId))
	kv.mu.Unlock()

	kv.replicate("Append", args.Key, updated, args.ClerkId, args.Seq, old)
	reply.Value = old
	return nil
}

// replicate pushes an applied write to the other members of the key's
// replica set, in ring order. Runs after kv.mu has been released;
// each backup applies under its own lock.
func (kv *KVServer) replicate(op string, key string, value string, clerkId int64, seq int64, replyVal string) {
	n := kv.cfg.nservers
	primary := kv.primaryFor(key)
	for k := 1; k < kv.cfg.nreplicas; k++ {
		sid := (primary + k) % n
		if sid == kv.me {
			continue
		}
		kv.cfg.kvservers[sid].applyReplica(key, value, clerkId, seq, replyVal)
		kv.logger.Log(LogTopicReplica, fmt.Sprintf("S%d replicated %s for key %s to S%d", kv.me, op, key, sid))
	}
}

// applyReplica installs a write the primary has already performed.
// Pushes whose seq is not newer than the clerk's newest are ignored,
// so a replay can never roll a backup backwards.
func (kv *KVServer) applyReplica(key string, value string, clerkId int64, seq int64, replyVal string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if last, ok := kv.last[clerkId]; ok && seq <= last.seq {
		return
	}
	kv.kv[key] = value
	kv.last[clerkId] = lastOp{seq: seq, reply: replyVal}
}

// forward retries a misdirected write against the shard's primary
// until the primary replies or the deadline passes. Every attempt
// talks over a fresh, uniquely named endpoint that is torn down
// afterwards, so a stalled attempt cannot interfere with later ones.
func (kv *KVServer) forward(svcMeth string, args *PutAppendArgs, reply *PutAppendReply) error {
	primary := kv.primaryFor(args.Key)
	deadline := time.Now().Add(WaitTimeOut)

	for time.Now().Before(deadline) {
		endname := fmt.Sprintf("fwd-%d-%d", kv.me, nrand())
		end := kv.cfg.net.MakeEnd(endname)
		kv.cfg.net.Connect(endname, primary)
		kv.cfg.net.Enable(endname, kv.cfg.isRunning(primary))

		ok := end.Call(svcMeth, args, reply)
		kv.cfg.net.DeleteEnd(endname)
		if ok {
			kv.logger.Log(LogTopicForward, fmt.Sprintf("S%d forwarded %s for key %s to S%d", kv.me, svcMeth, args.Key, primary))
			return nil
		}
		time.Sleep(RetryInterval)
	}

	kv.logger.Log(LogTopicForward, fmt.Sprintf("S%d gave up forwarding %s for key %s to S%d", kv.me, svcMeth, args.Key, primary))
	return ErrTimeOut
}

// Kill takes the server out of service; RPCs that arrive afterwards
// are refused.
func (kv *KVServer) Kill() {
	atomic.StoreInt32(&kv.dead, 1)
}

func (kv *KVServer) killed() bool {
	z := atomic.LoadInt32(&kv.dead)
	return z == 1
}
