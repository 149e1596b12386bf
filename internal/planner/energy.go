package planner

import (
	"slices"
	"strings"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/scheduler"
)

// applyEnergyHeuristic moves high-energy work to the profile's first
// morning anchor and low-energy work to its first evening anchor. Tasks keep
// their anchor when the profile has no anchor in the target bucket.
func (p *Pipeline) applyEnergyHeuristic(plan *domain.Plan, profile domain.UserProfile, tags []string) {
	morning := p.firstAnchorIn(profile, scheduler.BucketMorning)
	evening := p.firstAnchorIn(profile, scheduler.BucketEvening)
	focus := slices.ContainsFunc(tags, func(t string) bool { return strings.EqualFold(t, FocusTag) })

	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		energy := t.EnergyRequired
		if focus && energy == domain.EnergyMedium {
			energy = domain.EnergyHigh
		}
		bucket := p.catalog.BucketOf(t.AssignedAnchor)
		switch {
		case energy == domain.EnergyHigh && bucket != scheduler.BucketMorning && morning != "":
			p.logger.Debug("Moving high-energy task to morning", "task", t.Name, "from", t.AssignedAnchor, "to", morning)
			t.AssignedAnchor = morning
		case energy == domain.EnergyLow && bucket != scheduler.BucketEvening && evening != "":
			p.logger.Debug("Moving low-energy task to evening", "task", t.Name, "from", t.AssignedAnchor, "to", evening)
			t.AssignedAnchor = evening
		}
	}
}

func (p *Pipeline) firstAnchorIn(profile domain.UserProfile, b scheduler.Bucket) string {
	for _, a := range profile.Anchors {
		if p.catalog.BucketOf(a) == b {
			return a
		}
	}
	return ""
}
