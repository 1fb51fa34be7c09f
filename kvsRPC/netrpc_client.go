package kvsRPC

import "net/rpc"

// NetRPCClient wraps a net/rpc connection to a real server. A handler
// that refuses a request surfaces here as a call error rather than a
// silent timeout; either way the caller sees ok == false and retries.
type NetRPCClient struct {
	client *rpc.Client
}

func NewNetRPCClient(address string) (*NetRPCClient, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return &NetRPCClient{client: client}, nil
}

func (c *NetRPCClient) Call(serviceMethod string, args interface{}, reply interface{}) (bool, error) {
	err := c.client.Call(serviceMethod, args, reply)
	if err != nil {
		return false, err
	}
	return true, nil
}
