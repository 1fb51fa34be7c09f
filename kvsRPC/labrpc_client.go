package kvsRPC

import (
	"csce438/labrpc"
)

// LabRPCClient wraps a simulated-network client end.
type LabRPCClient struct {
	client *labrpc.ClientEnd
}

func NewLabRPCClient(client *labrpc.ClientEnd) *LabRPCClient {
	return &LabRPCClient{client: client}
}

func (c *LabRPCClient) Call(serviceMethod string, args interface{}, reply interface{}) (bool, error) {
	return c.client.Call(serviceMethod, args, reply), nil
}
