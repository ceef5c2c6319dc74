package protocol

import (
	"fmt"
	"strings"

	"github.com/dkeye/roomvoice/internal/domain"
)

// WireRole is a domain.Role that travels as the relay's MASTER/VIEWER names.
type WireRole domain.Role

const (
	wireMaster = "MASTER"
	wireViewer = "VIEWER"
)

func (r WireRole) MarshalText() ([]byte, error) {
	switch domain.Role(r) {
	case domain.RoleInitiator:
		return []byte(wireMaster), nil
	case domain.RoleResponder:
		return []byte(wireViewer), nil
	}
	return nil, fmt.Errorf("unknown role %q", string(r))
}

func (r *WireRole) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case wireMaster:
		*r = WireRole(domain.RoleInitiator)
	case wireViewer:
		*r = WireRole(domain.RoleResponder)
	default:
		return fmt.Errorf("unknown role %q", string(b))
	}
	return nil
}

// Endpoint is one signaling endpoint of the relay channel, as the service reports it.
type Endpoint struct {
	Protocol         string `json:"Protocol"`
	ResourceEndpoint string `json:"ResourceEndpoint"`
}

// Credentials are short-lived keys scoped to one voice room.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
}

// VoiceCredentials is everything needed to open the signaling relay for one voice room.
type VoiceCredentials struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId,omitempty"`
	Role        WireRole           `json:"role"`
	ChannelARN  string             `json:"channelARN"`
	Endpoints   []Endpoint         `json:"endpoints"`
	Credentials Credentials        `json:"credentials"`
	ClientID    string             `json:"clientId,omitempty"`
}

// Endpoint returns the resource endpoint advertised for proto (e.g. "WSS").
func (c VoiceCredentials) Endpoint(proto string) (string, bool) {
	for _, e := range c.Endpoints {
		if strings.EqualFold(e.Protocol, proto) {
			return e.ResourceEndpoint, true
		}
	}
	return "", false
}

func (c VoiceCredentials) validate() error {
	if c.ChannelARN == "" {
		return fmt.Errorf("missing channelARN")
	}
	return nil
}
