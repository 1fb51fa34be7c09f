// Command kvclient runs one key/value operation against a kvserver
// cluster:
//
//	kvclient -servers host:9000,host:9001,host:9002 -replicas 2 put k v
//	kvclient -servers host:9000,host:9001,host:9002 -replicas 2 get k
//	kvclient -servers host:9000,host:9001,host:9002 -replicas 2 append k more
//
// The address list must name every server in cluster order, because
// keys are routed by server index. append prints the value the key
// held before the append; get prints the current value.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"csce438/shardkv"
)

func main() {
	var (
		servers   = flag.String("servers", "localhost:9000", "comma-separated server addresses, in cluster order")
		nreplicas = flag.Int("replicas", 2, "replicas per shard, matching the cluster")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("usage: kvclient [flags] get <key> | put <key> <value> | append <key> <value>")
	}

	addrs := strings.Split(*servers, ",")
	ck, err := shardkv.MakeNetClerk(addrs, *nreplicas)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	op, key := args[0], args[1]
	switch op {
	case "get":
		v, err := ck.Get(key)
		if err != nil {
			log.Fatalf("get %v: %v", key, err)
		}
		fmt.Println(v)
	case "put":
		if len(args) < 3 {
			log.Fatalf("usage: kvclient put <key> <value>")
		}
		if err := ck.Put(key, args[2]); err != nil {
			log.Fatalf("put %v: %v", key, err)
		}
	case "append":
		if len(args) < 3 {
			log.Fatalf("usage: kvclient append <key> <value>")
		}
		old, err := ck.Append(key, args[2])
		if err != nil {
			log.Fatalf("append %v: %v", key, err)
		}
		fmt.Println(old)
	default:
		log.Fatalf("unknown operation %q", op)
	}
}
