package block

import "fmt"

// PodInfoType selects a pod info page. GetStatus sends it and the
// PodInfoResponse echoes it as its first payload byte.
type PodInfoType byte

const (
	PodInfoNormal           PodInfoType = 0x00 // plain StatusResponse
	PodInfoConfiguredAlerts PodInfoType = 0x01
	PodInfoDetailedStatus   PodInfoType = 0x02
	PodInfoPulseLogPlus     PodInfoType = 0x03
	PodInfoActivationTime   PodInfoType = 0x05
	PodInfoType46           PodInfoType = 0x46
	PodInfoPulseLogRecent   PodInfoType = 0x50
	PodInfoPulseLogPrevious PodInfoType = 0x51
)

var podInfoNames = map[PodInfoType]string{
	PodInfoConfiguredAlerts: "configuredAlerts",
	PodInfoDetailedStatus:   "detailedStatus",
	PodInfoPulseLogPlus:     "pulseLogPlus",
	PodInfoActivationTime:   "activationTime",
	PodInfoType46:           "type46",
	PodInfoPulseLogRecent:   "pulseLogRecent",
	PodInfoPulseLogPrevious: "pulseLogPrevious",
}

func (t PodInfoType) String() string {
	if t == PodInfoNormal {
		return "normal"
	}
	if s, ok := podInfoNames[t]; ok {
		return s
	}
	return fmt.Sprintf("podInfo(0x%02x)", byte(t))
}

// Known reports whether t is a pod info page, excluding the plain status.
func (t PodInfoType) Known() bool {
	_, ok := podInfoNames[t]
	return ok
}
