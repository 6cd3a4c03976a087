package market

import (
	"fmt"
	"strings"
	"time"
)

// TimeFrame is a bar width in seconds.
type TimeFrame int32

const (
	M1  TimeFrame = 60
	M2  TimeFrame = 120
	M3  TimeFrame = 180
	M4  TimeFrame = 240
	M5  TimeFrame = 300
	M6  TimeFrame = 360
	M10 TimeFrame = 600
	M12 TimeFrame = 720
	M15 TimeFrame = 900
	M20 TimeFrame = 1200
	M30 TimeFrame = 1800
	H1  TimeFrame = 3600
	H2  TimeFrame = 7200
	H3  TimeFrame = 10800
	H4  TimeFrame = 14400
	H6  TimeFrame = 21600
	H8  TimeFrame = 28800
	H12 TimeFrame = 43200
	D1  TimeFrame = 86400
	W1  TimeFrame = 604800
	MN1 TimeFrame = 2592000
)

var timeFrames = []struct {
	name string
	tf   TimeFrame
}{
	{"M1", M1}, {"M2", M2}, {"M3", M3}, {"M4", M4}, {"M5", M5}, {"M6", M6},
	{"M10", M10}, {"M12", M12}, {"M15", M15}, {"M20", M20}, {"M30", M30},
	{"H1", H1}, {"H2", H2}, {"H3", H3}, {"H4", H4}, {"H6", H6}, {"H8", H8}, {"H12", H12},
	{"D1", D1}, {"W1", W1}, {"MN1", MN1},
}

// TimeFrames lists every known frame, shortest first.
func TimeFrames() []TimeFrame {
	out := make([]TimeFrame, len(timeFrames))
	for i, e := range timeFrames {
		out[i] = e.tf
	}
	return out
}

func (tf TimeFrame) String() string {
	for _, e := range timeFrames {
		if e.tf == tf {
			return e.name
		}
	}
	return fmt.Sprintf("TF(%ds)", int32(tf))
}

func (tf TimeFrame) Duration() time.Duration {
	return time.Duration(tf) * time.Second
}

// Align truncates t to the start of its bar.
func (tf TimeFrame) Align(t time.Time) time.Time {
	if tf <= 0 {
		return t
	}
	sec := t.Unix()
	return time.Unix(sec-sec%int64(tf), 0).UTC()
}

// ParseTimeFrame accepts names (H1, m15) and OANDA granularities (D, W, M).
func ParseTimeFrame(s string) (TimeFrame, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "D":
		return D1, nil
	case "W":
		return W1, nil
	case "M", "MN":
		return MN1, nil
	}
	for _, e := range timeFrames {
		if e.name == name {
			return e.tf, nil
		}
	}
	return 0, fmt.Errorf("unsupported timeframe: %q", s)
}

// TimeFrameOf maps a width in seconds to a known frame.
func TimeFrameOf(sec int32) (TimeFrame, error) {
	for _, e := range timeFrames {
		if int32(e.tf) == sec {
			return e.tf, nil
		}
	}
	return 0, fmt.Errorf("invalid timeframe seconds: %d", sec)
}

func (tf TimeFrame) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

func (tf *TimeFrame) UnmarshalText(b []byte) error {
	v, err := ParseTimeFrame(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}
