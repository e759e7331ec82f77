package vision

import "time"

const DefaultCooldown = 5000 * time.Millisecond

// Trigger is the decision to raise an incident from a frame's detections.
type Trigger struct {
	IncidentType string
	Detection    Detection
	Time         time.Time
}

// TriggerPolicy decides when a frame's detections become an incident.
// It holds a static class -> incident type mapping, and a global cooldown
// that suppresses duplicate incidents from a sustained event.
//
// The cooldown is deliberately global, not per class or per location.
// Within one frame, the first qualifying detection wins, in the order the
// detector produced them. Confidence plays no part in the choice.
//
// TriggerPolicy is owned by the capture loop and is not safe for
// concurrent use.
type TriggerPolicy struct {
	classToIncident map[int]string
	cooldown        time.Duration
	lastTrigger     time.Time
	now             func() time.Time // Overridable for tests
}

func NewTriggerPolicy(classToIncident map[int]string, cooldown time.Duration) *TriggerPolicy {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &TriggerPolicy{
		classToIncident: classToIncident,
		cooldown:        cooldown,
		now:             time.Now,
	}
}

// Evaluate inspects one frame's detections, and returns at most one trigger.
// Returns nil while within the cooldown window, no matter how many
// qualifying detections occur.
func (p *TriggerPolicy) Evaluate(detections []Detection) *Trigger {
	now := p.now()
	if !p.lastTrigger.IsZero() && now.Sub(p.lastTrigger) < p.cooldown {
		return nil
	}
	for _, det := range detections {
		incidentType, ok := p.classToIncident[det.Class]
		if !ok {
			continue
		}
		p.lastTrigger = now
		return &Trigger{
			IncidentType: incidentType,
			Detection:    det,
			Time:         now,
		}
	}
	return nil
}
