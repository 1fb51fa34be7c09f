package shardkv

//
// Sharded key/value server with primary/backup replication.
// A key's shard index picks the replica set that stores it: the
// nreplicas servers starting at that index, wrapping around the
// cluster. The first server of the set is the shard's primary.
// Gets may be answered by any replica of the set; Puts and Appends
// are applied by the primary, which pushes the result to its
// backups and answers forwarded writes on behalf of the rest of
// the cluster.
//
import (
	"errors"
	"time"
)

// ErrTimeOut is returned when a request cannot complete within
// WaitTimeOut: the Clerk exhausted every replica of the shard, or a
// server could not reach the shard's primary to forward a write.
var ErrTimeOut = errors.New("ErrTimeOut")

// WaitTimeOut bounds how long a Clerk call or a forwarded write keeps
// retrying before giving up.
const WaitTimeOut = 2000 * time.Millisecond

// RetryInterval is the pause between retry passes.
const RetryInterval = 50 * time.Millisecond

const Debug = false

// Put or Append
type PutAppendArgs struct {
	// Field names must start with capital letters,
	// otherwise RPC will break.
	Key   string
	Value string

	ClerkId int64
	Seq     int64
}

type PutAppendReply struct {
	Value string
}

type GetArgs struct {
	Key string
}

type GetReply struct {
	Value string
}
