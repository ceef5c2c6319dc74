package rtc

import (
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// Opus is the only codec negotiated; the client carries audio only.
var opusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

// Factory builds peer connections sharing one configured pion API.
type Factory struct {
	api *webrtc.API
}

var _ core.PeerConnectionFactory = (*Factory)(nil)

func NewFactory() (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, errors.Wrap(err, "register opus")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	s := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	)
	return &Factory{api: api}, nil
}

func (f *Factory) NewPeerConnection(cfg webrtc.Configuration, remoteID string) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "peer connection for %s", remoteID)
	}
	return newConnection(pc, remoteID), nil
}
