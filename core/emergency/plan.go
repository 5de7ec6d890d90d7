package emergency

import (
	"fmt"

	"github.com/kilianp07/skyswarm/core/model"
)

type planTemplate struct {
	summary string
	lead    string
	support string
}

var planTemplates = map[model.ResponseType]planTemplate{
	model.ResponseBatteryAssist: {
		summary: "Battery assist for %s at %s: %s brings a charged pack",
		lead:    "rendezvous and swap battery",
		support: "hold position as relay",
	},
	model.ResponsePickupTransfer: {
		summary: "Payload transfer for %s at %s: %s takes over the delivery",
		lead:    "collect payload and resume delivery",
		support: "escort and monitor handover",
	},
	model.ResponseNavigationAid: {
		summary: "Navigation aid for %s at %s: %s leads the agent back on track",
		lead:    "lead agent to safe corridor",
		support: "relay position fixes",
	},
	model.ResponsePhysicalRescue: {
		summary: "Physical rescue for %s at %s: %s secures the crash site",
		lead:    "secure crash site and recover airframe",
		support: "survey area and mark hazards",
	},
}

func buildPlan(req model.EmergencyRequest, resp model.ResponseType, responders []string) model.CoordinationPlan {
	tpl := planTemplates[resp]
	plan := model.CoordinationPlan{
		Summary: fmt.Sprintf(tpl.summary, req.AgentID, req.Location, responders[0]),
	}
	for i, id := range responders {
		step := model.PlanStep{AgentID: id, Role: "support", Action: tpl.support}
		if i == 0 {
			step.Role = "lead"
			step.Action = tpl.lead
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}
