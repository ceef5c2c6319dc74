// Package relay opens the managed signaling channel (Kinesis Video Streams WebRTC
// signaling) with the short-lived credentials issued for one voice room.
package relay

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

const (
	signingService = "kinesisvideo"
	// sha256 of the empty payload; the websocket upgrade has no body.
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	presignExpiry    = "299"
	writeWait        = 5 * time.Second
	sendBuffer       = 64
)

// Dialer is a core.RelayDialer.
type Dialer struct {
	WS  *websocket.Dialer
	Now func() time.Time
}

func NewDialer() *Dialer {
	return &Dialer{WS: websocket.DefaultDialer, Now: time.Now}
}

// Presign returns the SigV4 query-signed URL of the signaling endpoint.
func Presign(ctx context.Context, cfg core.RelayConfig, now time.Time) (string, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse relay endpoint")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := url.Values{}
	q.Set("X-Amz-ChannelARN", cfg.ChannelARN)
	if cfg.Role == domain.RoleResponder {
		q.Set("X-Amz-ClientId", cfg.ClientID)
	}
	q.Set("X-Amz-Expires", presignExpiry)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "build presign request")
	}
	creds := aws.Credentials{
		AccessKeyID:     cfg.Credentials.AccessKeyID,
		SecretAccessKey: cfg.Credentials.SecretAccessKey,
		SessionToken:    cfg.Credentials.SessionToken,
	}
	signed, _, err := v4.NewSigner().PresignHTTP(ctx, creds, req, emptyPayloadHash, signingService, cfg.Region, now)
	if err != nil {
		return "", errors.Wrap(err, "presign relay url")
	}
	return signed, nil
}

func (d *Dialer) Dial(ctx context.Context, cfg core.RelayConfig, h core.RelayHandler) (core.RelayChannel, error) {
	signed, err := Presign(ctx, cfg, d.Now())
	if err != nil {
		return nil, err
	}
	ws, _, err := d.WS.DialContext(ctx, signed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial relay")
	}
	ch := &Channel{
		ws:   ws,
		role: cfg.Role,
		h:    h,
		send: make(chan []byte, sendBuffer),
	}
	go ch.writePump()
	go ch.readPump()
	log.Info().Str("module", "relay").Str("role", string(cfg.Role)).Str("region", cfg.Region).Msg("relay open")
	return ch, nil
}

// Channel is one open relay connection.
type Channel struct {
	ws   *websocket.Conn
	role domain.Role
	h    core.RelayHandler
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

// recipient addresses remoteID. A responder only ever talks to the initiator, which
// the relay addresses implicitly.
func (c *Channel) recipient(remoteID string) string {
	if c.role == domain.RoleResponder {
		return ""
	}
	return remoteID
}

func (c *Channel) SendSdpOffer(offer webrtc.SessionDescription, remoteID string) error {
	return c.enqueue(actionSdpOffer, offer, remoteID)
}

func (c *Channel) SendSdpAnswer(answer webrtc.SessionDescription, remoteID string) error {
	return c.enqueue(actionSdpAnswer, answer, remoteID)
}

func (c *Channel) SendIceCandidate(cand webrtc.ICECandidateInit, remoteID string) error {
	return c.enqueue(actionIceCandidate, cand, remoteID)
}

func (c *Channel) enqueue(action string, payload any, remoteID string) error {
	p, err := encodePayload(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", action)
	}
	msg := outbound{Action: action, MessagePayload: p, RecipientClientID: c.recipient(remoteID)}
	if action != actionIceCandidate {
		msg.CorrelationID = uuid.NewString()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", action)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Close closes the relay without reporting OnClose.
func (c *Channel) Close() {
	c.shutdown()
}

// shutdown reports whether this call was the one that closed the channel.
func (c *Channel) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	return true
}

func (c *Channel) writePump() {
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.shutdown() {
				log.Warn().Err(err).Str("module", "relay").Msg("relay closed")
				c.h.OnClose(err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	// The relay sends empty frames as keep-alives.
	if len(data) == 0 {
		return
	}
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("bad relay message")
		return
	}
	sender := in.SenderClientID
	if sender == "" && c.role == domain.RoleResponder {
		sender = core.InitiatorPeerID
	}
	switch in.MessageType {
	case actionSdpOffer:
		sd, err := decodeDescription(in.MessagePayload)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Msg("bad offer payload")
			return
		}
		c.h.OnSdpOffer(sd, sender)
	case actionSdpAnswer:
		sd, err := decodeDescription(in.MessagePayload)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Msg("bad answer payload")
			return
		}
		c.h.OnSdpAnswer(sd, sender)
	case actionIceCandidate:
		cand, err := decodeCandidate(in.MessagePayload)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Msg("bad candidate payload")
			return
		}
		c.h.OnIceCandidate(cand, sender)
	case messageStatus:
		if s := in.StatusResponse; s != nil {
			log.Warn().Str("module", "relay").Str("status", s.StatusCode).Str("error", s.ErrorType).Str("description", s.Description).Msg("relay status")
		}
	case messageGoAway, messageReconnect:
		log.Info().Str("module", "relay").Str("type", in.MessageType).Msg("relay asks to reconnect")
	default:
		log.Debug().Str("module", "relay").Str("type", in.MessageType).Msg("relay message ignored")
	}
}
