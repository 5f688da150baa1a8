package telephony

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// SessionRef identifies a provisioned media session (a LiveKit room).
type SessionRef struct {
	Name string
	SID  string
}

// DispatchResult identifies an agent dispatched into a session.
type DispatchResult struct {
	DispatchID string
}

// OutboundLeg describes the PSTN leg dialed into a session.
type OutboundLeg struct {
	SessionName         string
	TrunkID             string
	Destination         string
	ParticipantIdentity string
	ParticipantName     string
}

// CallRef identifies a placed outbound leg.
type CallRef struct {
	ParticipantID string
	SIPCallID     string
}

// Adapter abstracts the real-time media and telephony provider. Implementations
// must honour ctx cancellation.
type Adapter interface {
	CreateSession(ctx context.Context, name string, metadata []byte) (SessionRef, error)
	DispatchAgent(ctx context.Context, sessionName, agentName string, metadata []byte) (DispatchResult, error)
	PlaceOutboundLeg(ctx context.Context, leg OutboundLeg) (CallRef, error)
}

// ContactInfo is the contact snapshot handed to the agent.
type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CallMetadata is attached to the session and the agent dispatch so the agent
// can recognise a campaign call.
type CallMetadata struct {
	AssistantID     *uuid.UUID  `json:"assistantId,omitempty"`
	CampaignID      uuid.UUID   `json:"campaignId"`
	CampaignPrompt  string      `json:"campaignPrompt"`
	ContactInfo     ContactInfo `json:"contactInfo"`
	Source          string      `json:"source"`
	CallType        string      `json:"callType"`
	OutboundTrunkID string      `json:"outbound_trunk_id,omitempty"`
	PhoneNumber     string      `json:"phoneNumber"`
	RoomName        string      `json:"roomName,omitempty"`
	AgentName       string      `json:"agentName,omitempty"`
}

// Encode serialises the metadata.
func (m CallMetadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}
