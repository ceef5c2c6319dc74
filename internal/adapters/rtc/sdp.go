package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

var directions = []string{"sendrecv", "sendonly", "recvonly", "inactive"}

// Summary is the loggable gist of a session description.
type Summary struct {
	Codecs     []string
	Directions []string
	Candidates int
}

// Summarize extracts codecs, media directions and the inline candidate count.
func Summarize(raw string) (Summary, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return Summary{}, errors.Wrap(err, "parse sdp")
	}

	var sum Summary
	for _, md := range sd.MediaDescriptions {
		dir := "sendrecv"
		for _, a := range md.Attributes {
			switch {
			case a.Key == "candidate":
				sum.Candidates++
			case a.Key == "rtpmap":
				// "<pt> <codec>/<rate>[/<channels>]"
				if _, codec, ok := strings.Cut(a.Value, " "); ok {
					sum.Codecs = append(sum.Codecs, codec)
				}
			case isDirection(a.Key):
				dir = a.Key
			}
		}
		sum.Directions = append(sum.Directions, md.MediaName.Media+":"+dir)
	}
	return sum, nil
}

func isDirection(key string) bool {
	for _, d := range directions {
		if key == d {
			return true
		}
	}
	return false
}
