package relay

import (
	"encoding/base64"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

const (
	actionSdpOffer     = "SDP_OFFER"
	actionSdpAnswer    = "SDP_ANSWER"
	actionIceCandidate = "ICE_CANDIDATE"
	messageGoAway      = "GO_AWAY"
	messageReconnect   = "RECONNECT_ICE_SERVER"
	messageStatus      = "STATUS_RESPONSE"
)

// outbound is a message sent to the relay.
type outbound struct {
	Action            string `json:"action"`
	MessagePayload    string `json:"messagePayload"`
	RecipientClientID string `json:"recipientClientId,omitempty"`
	CorrelationID     string `json:"correlationId,omitempty"`
}

// inbound is a message delivered by the relay.
type inbound struct {
	MessageType    string          `json:"messageType"`
	MessagePayload string          `json:"messagePayload"`
	SenderClientID string          `json:"senderClientId"`
	StatusResponse *statusResponse `json:"statusResponse,omitempty"`
}

type statusResponse struct {
	CorrelationID string `json:"correlationId"`
	ErrorType     string `json:"errorType"`
	StatusCode    string `json:"statusCode"`
	Description   string `json:"description"`
}

// encodePayload renders v as the base64 JSON the relay carries opaquely.
func encodePayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodePayload(s string, v any) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func decodeDescription(s string) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	err := decodePayload(s, &sd)
	return sd, err
}

func decodeCandidate(s string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	err := decodePayload(s, &c)
	return c, err
}
