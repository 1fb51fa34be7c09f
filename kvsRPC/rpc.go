package kvsRPC

// RPCClient is the interface for RPC calls. ok is false when no
// usable reply arrived, whatever the transport; callers retry on
// ok == false without caring why.
type RPCClient interface {
	Call(serviceMethod string, args interface{}, reply interface{}) (bool, error)
}
