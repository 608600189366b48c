package protocol

import (
	"encoding/json"
	"math"

	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
)

// statusBody is the wire form of a status reply.
type statusBody struct {
	Tracking  bool    `json:"tracking"`
	SetupDone bool    `json:"setupDone"`
	SunAz     float64 `json:"sunAz"`
	SunEl     float64 `json:"sunEl"`
	MirrorAz  float64 `json:"mirrorAz"`
	MirrorEl  float64 `json:"mirrorEl"`
	Time      string  `json:"time"`
}

type statusReply struct {
	Status statusBody `json:"status"`
}

// EncodeStatus renders st as {"status":{...}} with angles rounded to two
// decimals.
func EncodeStatus(st tracking.Status) ([]byte, error) {
	return json.Marshal(statusReply{Status: statusBody{
		Tracking:  st.Tracking,
		SetupDone: st.SetupDone,
		SunAz:     round2(st.SunAz),
		SunEl:     round2(st.SunEl),
		MirrorAz:  round2(st.MirrorAz),
		MirrorEl:  round2(st.MirrorEl),
		Time:      st.Time,
	}})
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // no "-0" on the wire
	}
	return r
}
