package livekit

import (
	"context"
	"fmt"
	"strings"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/internal/telephony"
)

// Adapter talks to LiveKit's room, agent dispatch and SIP services.
type Adapter struct {
	rooms    *lksdk.RoomServiceClient
	dispatch *lksdk.AgentDispatchClient
	sip      *lksdk.SIPClient
}

// NewAdapter builds the service clients from config.
func NewAdapter(cfg config.CallBridgeConfig) *Adapter {
	url := httpURL(cfg.URL)
	return &Adapter{
		rooms:    lksdk.NewRoomServiceClient(url, cfg.APIKey, cfg.APISecret),
		dispatch: lksdk.NewAgentDispatchServiceClient(url, cfg.APIKey, cfg.APISecret),
		sip:      lksdk.NewSIPClient(url, cfg.APIKey, cfg.APISecret),
	}
}

// CreateSession creates a room carrying the call metadata.
func (a *Adapter) CreateSession(ctx context.Context, name string, metadata []byte) (telephony.SessionRef, error) {
	room, err := a.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:     name,
		Metadata: string(metadata),
	})
	if err != nil {
		return telephony.SessionRef{}, fmt.Errorf("livekit: create room %s: %w", name, err)
	}
	return telephony.SessionRef{Name: room.GetName(), SID: room.GetSid()}, nil
}

// DispatchAgent asks the named agent to join the room.
func (a *Adapter) DispatchAgent(ctx context.Context, sessionName, agentName string, metadata []byte) (telephony.DispatchResult, error) {
	res, err := a.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: agentName,
		Room:      sessionName,
		Metadata:  string(metadata),
	})
	if err != nil {
		return telephony.DispatchResult{}, fmt.Errorf("livekit: dispatch agent %s: %w", agentName, err)
	}
	return telephony.DispatchResult{DispatchID: res.GetId()}, nil
}

// PlaceOutboundLeg dials the destination through the SIP trunk into the room.
func (a *Adapter) PlaceOutboundLeg(ctx context.Context, leg telephony.OutboundLeg) (telephony.CallRef, error) {
	info, err := a.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          leg.TrunkID,
		SipCallTo:           leg.Destination,
		RoomName:            leg.SessionName,
		ParticipantIdentity: leg.ParticipantIdentity,
		ParticipantName:     leg.ParticipantName,
	})
	if err != nil {
		return telephony.CallRef{}, fmt.Errorf("livekit: create sip participant: %w", err)
	}
	return telephony.CallRef{ParticipantID: info.GetParticipantId(), SIPCallID: info.GetSipCallId()}, nil
}

// httpURL converts a websocket endpoint into the HTTP form the service
// clients expect.
func httpURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	default:
		return raw
	}
}
