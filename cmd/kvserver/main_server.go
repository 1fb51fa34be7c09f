// Command kvserver hosts a key/value cluster in one process and
// exposes each server over net/rpc, so kvclient can reach the cluster
// from other machines. Replication and write forwarding run inside
// the process, the same way the test harness runs them.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"

	"csce438/shardkv"
)

func main() {
	var (
		nservers  = flag.Int("servers", 3, "number of servers in the cluster")
		nreplicas = flag.Int("replicas", 2, "replicas per shard")
		port      = flag.Int("port", 9000, "TCP port of server 0; server i listens on port+i")
	)
	flag.Parse()

	cfg := shardkv.MakeConfig(nil, *nservers, *nreplicas, false)
	defer cfg.Cleanup()

	for i := 0; i < *nservers; i++ {
		rpcs := rpc.NewServer()
		if err := rpcs.Register(cfg.Server(i)); err != nil {
			log.Fatalf("register server %v: %v", i, err)
		}

		addr := fmt.Sprintf(":%d", *port+i)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("listen on %v: %v", addr, err)
		}
		fmt.Printf("Starting KVServer %d on %s\n", i, addr)

		go func(l net.Listener) {
			for {
				conn, err := l.Accept()
				if err != nil {
					return
				}
				go rpcs.ServeConn(conn)
			}
		}(l)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Printf("Shutting down, %d operations applied\n", cfg.Ops())
}
