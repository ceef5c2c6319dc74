package rtc

import (
	"bytes"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answerSDP = "v=0\r\n" +
	"o=- 4215 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host\r\n" +
	"a=candidate:2 1 udp 1694498815 198.51.100.7 50001 typ srflx raddr 192.0.2.1 rport 50000\r\n" +
	"a=recvonly\r\n"

func TestSummarize(t *testing.T) {
	sum, err := Summarize(answerSDP)
	require.NoError(t, err)
	assert.Equal(t, []string{"opus/48000/2"}, sum.Codecs)
	assert.Equal(t, []string{"audio:recvonly"}, sum.Directions)
	assert.Equal(t, 2, sum.Candidates)
}

func TestSummarizeRejectsGarbage(t *testing.T) {
	_, err := Summarize("not an sdp")
	assert.Error(t, err)
}

func TestFactoryOfferCarriesOpus(t *testing.T) {
	f, err := NewFactory()
	require.NoError(t, err)

	pc, err := f.NewPeerConnection(webrtc.Configuration{}, "bob")
	require.NoError(t, err)
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "alice-stream")
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(track))

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	sum, err := Summarize(offer.SDP)
	require.NoError(t, err)
	assert.Contains(t, sum.Codecs, "opus/48000/2")
	assert.Equal(t, []string{"audio:sendrecv"}, sum.Directions)
}

func TestAnswerWithoutRemoteFails(t *testing.T) {
	f, err := NewFactory()
	require.NoError(t, err)
	pc, err := f.NewPeerConnection(webrtc.Configuration{}, "bob")
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.CreateAnswer()
	assert.Error(t, err)
}

func TestPionLoggerDemotesChatter(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })

	l := NewLoggerFactory().NewLogger("ice")
	l.Debugf("pair %d", 1)
	assert.Empty(t, buf.String())

	l.Infof("checking %s", "pairs")
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"scope":"ice"`)
	assert.Contains(t, buf.String(), "checking pairs")

	buf.Reset()
	l.Warn("slow")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
