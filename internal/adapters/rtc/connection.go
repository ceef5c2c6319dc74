package rtc

import (
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection adapts a pion PeerConnection to core.PeerConnection.
type Connection struct {
	pc       *webrtc.PeerConnection
	remoteID string
	logger   zerolog.Logger
}

var _ core.PeerConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection, remoteID string) *Connection {
	c := &Connection{
		pc:       pc,
		remoteID: remoteID,
		logger:   log.With().Str("module", "webrtc").Str("remote_id", remoteID).Logger(),
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	return c
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	return answer, nil
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	c.logDescription("local", d)
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.logDescription("remote", d)
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a local track and drains its RTCP so interceptors keep running.
func (c *Connection) AddTrack(t webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return errors.Wrapf(err, "add track %s", t.ID())
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand == nil {
			c.logger.Debug().Msg("ICE gathering complete")
			return
		}
		fn(cand.ToJSON())
	})
}

func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		fn(track, receiver)
	})
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(s)
	})
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func (c *Connection) logDescription(side string, d webrtc.SessionDescription) {
	ev := c.logger.Debug()
	if !ev.Enabled() {
		return
	}
	sum, err := Summarize(d.SDP)
	if err != nil {
		ev.Discard()
		c.logger.Warn().Err(err).Str("side", side).Msg("unparsable session description")
		return
	}
	ev.Str("side", side).
		Str("type", d.Type.String()).
		Strs("codecs", sum.Codecs).
		Strs("directions", sum.Directions).
		Int("candidates", sum.Candidates).
		Msg("session description")
}
