package pipeline

import (
	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
	"github.com/teslashibe/go-emotion/pkg/overlay"
)

// State is the per-session cache read by every display tick and written by
// completed inference passes.
type State struct {
	// Face is the last detected face in display space; nil when the last
	// processed frame had no face.
	Face *geometry.Box

	// Bars is the last smoothed readout; it outlives Face for a grace window.
	Bars *overlay.Bars

	// History holds the recent raw predictions.
	History *emotion.Smoother

	// NoFaceStreak counts consecutive processed frames without a face.
	NoFaceStreak int
}

// NewState creates an empty cache with a smoothing window of historySize.
func NewState(historySize int) *State {
	return &State{History: emotion.NewSmoother(historySize)}
}

// FaceFound records a detection and its raw prediction.
func (st *State) FaceFound(box geometry.Box, probs emotion.Vector) {
	smoothed := st.History.Push(probs)
	face := box
	st.Face = &face
	st.Bars = &overlay.Bars{Box: box, Vector: smoothed}
	st.NoFaceStreak = 0
}

// FaceMissing records a processed frame without a face. The box disappears
// at once; the bars are dropped when the streak reaches grace. It reports
// whether this call dropped the bars.
func (st *State) FaceMissing(grace int) bool {
	st.Face = nil
	st.NoFaceStreak++
	if st.Bars != nil && st.NoFaceStreak >= grace {
		st.Bars = nil
		return true
	}
	return false
}

// Reset clears every cell.
func (st *State) Reset() {
	st.Face = nil
	st.Bars = nil
	st.NoFaceStreak = 0
	st.History.Reset()
}

// Snapshot is an immutable copy of the cache for consumers outside the
// pipeline.
type Snapshot struct {
	Face         *geometry.Box  `json:"face,omitempty"`
	Bars         *overlay.Bars  `json:"bars,omitempty"`
	Smoothed     emotion.Vector `json:"smoothed"`
	HasReading   bool           `json:"has_reading"`
	NoFaceStreak int            `json:"no_face_streak"`
	VideoReady   bool           `json:"video_ready"`
	Frame        uint64         `json:"frame"`
}

func (st *State) snapshot() Snapshot {
	snap := Snapshot{NoFaceStreak: st.NoFaceStreak}
	if st.Face != nil {
		f := *st.Face
		snap.Face = &f
	}
	if st.Bars != nil {
		b := *st.Bars
		snap.Bars = &b
		snap.Smoothed = b.Vector
		snap.HasReading = true
	}
	return snap
}
