// Package cluster implements the Proxy Registry (H), Heartbeat Publisher
// (I), and Server-List Handler (J): the cross-proxy coordination layer
// built on top of the Messaging Service (see SPEC_FULL.md §4.6, §4.7).
package cluster

// Channel identifiers are stable strings shared by every proxy in a
// cluster (spec §6.4).
const (
	ChannelHeartbeat  = "numdrassl:heartbeat"
	ChannelServerList = "numdrassl:server-list"
	ChannelPlayerCount = "numdrassl:player-count"
	ChannelChat       = "numdrassl:chat"
	ChannelTransfer   = "numdrassl:transfer"
	ChannelPlugin     = "numdrassl:plugin"
	ChannelBroadcast  = "numdrassl:broadcast"
)
