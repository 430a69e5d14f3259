package activity

import "github.com/cuemby/comeback/pkg/cgroup"

// Message is the tagged union of events the activity engine consumes. Each
// variant carries only a cgroup's Name, not a reference to the cgroup
// itself — nothing about restart or index state needs to flow back through
// activity logging, and keeping the payload a plain string avoids any
// cross-package lifetime concerns.
type Message interface {
	isMessage()
}

// NewCgroup reports that a cgroup directory has just been discovered.
type NewCgroup struct {
	Name string
}

// StaleCgroup reports that a previously tracked cgroup has disappeared.
type StaleCgroup struct {
	Name string
}

// RestartCgroup reports that a cgroup is being restarted for exceeding its
// memory allocation, along with a snapshot of the processes it contained.
type RestartCgroup struct {
	Name    string
	PSTable []cgroup.ProcessSnapshot
}

// RestartTimeout reports that a cgroup did not exit within its grace
// period and had to be killed.
type RestartTimeout struct {
	Name        string
	GracePeriod int
}

// Exit tells the activity engine's consume loop to stop.
type Exit struct{}

func (NewCgroup) isMessage()      {}
func (StaleCgroup) isMessage()    {}
func (RestartCgroup) isMessage()  {}
func (RestartTimeout) isMessage() {}
func (Exit) isMessage()           {}
