package monitor

import (
	"time"

	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
)

// Rung is one step of the pre-meeting escalation ladder. Day rungs cover
// whole days, [Offset, Offset+24h); hour rungs cover (Floor, Offset].
type Rung struct {
	Label    string
	Offset   time.Duration
	Floor    time.Duration
	WholeDay bool
	When     string
}

func (r Rung) Tag() string { return appointment.EscalationTag(r.Label) }

// Contains reports whether diff, the time left before the meeting, falls in
// the rung's window.
func (r Rung) Contains(diff time.Duration) bool {
	if r.WholeDay {
		return diff >= r.Offset && diff < r.Offset+24*time.Hour
	}
	return diff <= r.Offset && diff > r.Floor
}

// Ladder is ordered by descending offset.
var Ladder = []Rung{
	{Label: "2d", Offset: 48 * time.Hour, WholeDay: true, When: "in 2 days"},
	{Label: "1d", Offset: 24 * time.Hour, WholeDay: true, When: "tomorrow"},
	{Label: "12h", Offset: 12 * time.Hour, Floor: 4 * time.Hour, When: "in 12 hours"},
	{Label: "4h", Offset: 4 * time.Hour, Floor: time.Hour, When: "in 4 hours"},
	{Label: "1h", Offset: time.Hour, Floor: 15 * time.Minute, When: "in 1 hour"},
	{Label: "15m", Offset: 15 * time.Minute, When: "in 15 minutes"},
}

type Config struct {
	ProbeInterval time.Duration
	// MissThreshold is the unanswered probe count at which the next due probe
	// finishes the appointment instead.
	MissThreshold int
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 20 * time.Minute
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = 2
	}
	return c
}

type Action int

const (
	ActionNone Action = iota
	ActionMilestone
	ActionActivate
	ActionProbe
	ActionAutoFinish
)

func (a Action) String() string {
	switch a {
	case ActionMilestone:
		return "milestone"
	case ActionActivate:
		return "activate"
	case ActionProbe:
		return "probe"
	case ActionAutoFinish:
		return "auto_finish"
	default:
		return "none"
	}
}

type Decision struct {
	Action Action
	Rung   Rung
}

// Decide derives the single action due for a at now. It reads only
// persisted fields, so repeating it after a crash yields the same answer.
func Decide(a appointment.Appointment, now time.Time, cfg Config) Decision {
	cfg = cfg.withDefaults()
	if a.Status != appointment.StatusAccepted {
		return Decision{}
	}

	diff := a.Date.Sub(now)
	if diff > 0 {
		for _, r := range Ladder {
			if r.Contains(diff) {
				if a.HasMilestone(r.Tag()) {
					return Decision{}
				}
				return Decision{Action: ActionMilestone, Rung: r}
			}
		}
		return Decision{}
	}

	if !a.MonitoringActive {
		return Decision{Action: ActionActivate}
	}
	if a.LastSafetyCheck != nil && now.Sub(*a.LastSafetyCheck) < cfg.ProbeInterval {
		return Decision{}
	}
	if a.MissedResponseCount >= cfg.MissThreshold {
		return Decision{Action: ActionAutoFinish}
	}
	return Decision{Action: ActionProbe}
}

// Apply mutates a according to d.
func Apply(a *appointment.Appointment, d Decision, now time.Time) {
	switch d.Action {
	case ActionMilestone:
		a.AddMilestone(d.Rung.Tag())
	case ActionActivate:
		a.MonitoringActive = true
		a.LastSafetyCheck = &now
		a.MissedResponseCount = 0
	case ActionProbe:
		a.LastSafetyCheck = &now
		a.MissedResponseCount++
	case ActionAutoFinish:
		a.Status = appointment.StatusFinished
		a.StopMonitoring()
	}
}
