package network

import "time"

const (
	// Unary calls without a client deadline get this one.
	GRPCDefaultDeadline = 10 * time.Second

	GRPCMaxRecvMsgSize = 4 * 1024 * 1024
	GRPCMaxSendMsgSize = 20 * 1024 * 1024

	RepairServiceName = "chainfork.Repair"
	GetBlockMethod    = "/" + RepairServiceName + "/GetBlock"
)
