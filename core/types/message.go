package types

import "fmt"

// MsgType enumerates the protocol payload variants.
type MsgType byte

const (
	MsgTypeOpenChannel MsgType = iota + 1
	MsgTypeAcceptChannel
	MsgTypeAddHTLC
	MsgTypeFulfillHTLC
	MsgTypeFailHTLC
	MsgTypeChannelAnnouncement
	MsgTypeChannelUpdate
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeOpenChannel:
		return "open_channel"
	case MsgTypeAcceptChannel:
		return "accept_channel"
	case MsgTypeAddHTLC:
		return "update_add_htlc"
	case MsgTypeFulfillHTLC:
		return "update_fulfill_htlc"
	case MsgTypeFailHTLC:
		return "update_fail_htlc"
	case MsgTypeChannelAnnouncement:
		return "channel_announcement"
	case MsgTypeChannelUpdate:
		return "channel_update"
	default:
		return fmt.Sprintf("0x%02x", byte(t))
	}
}

// Category is the inbound queue a message is delivered to.
type Category int

const (
	CategoryOpening Category = iota
	CategoryHTLC
	CategoryGossip
	numCategories
)

// NumCategories is the number of inbound queues per node.
const NumCategories = int(numCategories)

func (c Category) String() string {
	switch c {
	case CategoryOpening:
		return "opening"
	case CategoryHTLC:
		return "htlc"
	case CategoryGossip:
		return "gossip"
	default:
		return "unknown"
	}
}

// Category returns the inbound queue for the message type.
func (t MsgType) Category() Category {
	switch t {
	case MsgTypeOpenChannel, MsgTypeAcceptChannel:
		return CategoryOpening
	case MsgTypeAddHTLC, MsgTypeFulfillHTLC, MsgTypeFailHTLC:
		return CategoryHTLC
	default:
		return CategoryGossip
	}
}

// Payload is implemented by every protocol message variant.
type Payload interface {
	MsgType() MsgType
}

// Message is the envelope exchanged between node agents.
type Message struct {
	From    NodeID  `json:"from"`
	To      NodeID  `json:"to"`
	Payload Payload `json:"-"`
}

// Type returns the payload variant, or zero for an empty envelope.
func (m *Message) Type() MsgType {
	if m == nil || m.Payload == nil {
		return 0
	}
	return m.Payload.MsgType()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s->%s", m.Type(), m.From, m.To)
}

// OpenChannel proposes a new channel funded entirely by the initiator.
type OpenChannel struct {
	TemporaryID  ChannelID `json:"temporaryId"`
	Capacity     int64     `json:"capacity"`
	Reserve      int64     `json:"reserve"`
	FeeRate      int64     `json:"feeRate"`
	ToSelfDelay  uint32    `json:"toSelfDelay"`
	FunderPubKey string    `json:"funderPubkey"`
}

// AcceptChannel answers an OpenChannel. Accepted=false carries the rejection reason.
type AcceptChannel struct {
	TemporaryID    ChannelID `json:"temporaryId"`
	Accepted       bool      `json:"accepted"`
	Reason         string    `json:"reason,omitempty"`
	AcceptorPubKey string    `json:"acceptorPubkey"`
}

// AddHTLC offers an HTLC to the next hop.
type AddHTLC struct {
	HTLC HTLC `json:"htlc"`
}

// FulfillHTLC settles an HTLC by revealing the preimage.
type FulfillHTLC struct {
	ChannelID ChannelID `json:"channelId"`
	ID        uint64    `json:"id"`
	Preimage  Hash      `json:"preimage"`
}

// FailHTLC cancels an HTLC.
type FailHTLC struct {
	ChannelID ChannelID     `json:"channelId"`
	ID        uint64        `json:"id"`
	Reason    FailureReason `json:"reason"`
}

// ChannelAnnouncement gossips the existence of a confirmed channel.
type ChannelAnnouncement struct {
	ChannelID   ChannelID `json:"channelId"`
	NodeA       NodeID    `json:"nodeA"`
	NodeB       NodeID    `json:"nodeB"`
	PubKeyA     string    `json:"pubkeyA"`
	PubKeyB     string    `json:"pubkeyB"`
	Capacity    int64     `json:"capacity"`
	Timestamp   uint64    `json:"timestamp"`
	Forwardings int       `json:"forwardings"`
}

// ChannelUpdate gossips the policy one side applies when forwarding.
type ChannelUpdate struct {
	ChannelID   ChannelID `json:"channelId"`
	Signer      NodeID    `json:"signer"`
	Policy      Policy    `json:"policy"`
	Timestamp   uint64    `json:"timestamp"`
	Forwardings int       `json:"forwardings"`
}

func (*OpenChannel) MsgType() MsgType         { return MsgTypeOpenChannel }
func (*AcceptChannel) MsgType() MsgType       { return MsgTypeAcceptChannel }
func (*AddHTLC) MsgType() MsgType             { return MsgTypeAddHTLC }
func (*FulfillHTLC) MsgType() MsgType         { return MsgTypeFulfillHTLC }
func (*FailHTLC) MsgType() MsgType            { return MsgTypeFailHTLC }
func (*ChannelAnnouncement) MsgType() MsgType { return MsgTypeChannelAnnouncement }
func (*ChannelUpdate) MsgType() MsgType       { return MsgTypeChannelUpdate }
