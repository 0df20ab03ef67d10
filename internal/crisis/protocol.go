package crisis

import (
	"github.com/google/uuid"
)

// buildProtocol assembles the declarative action set for a detection. The
// protocol exists only for the duration of the triggering request; the audit
// trail is its only persistence.
func buildProtocol(severity Severity, indicators []string, resources []ResourceRef, responders, crisisTeam []string) *Protocol {
	p := &Protocol{
		ID:                uuid.New().String(),
		TriggerIndicators: indicators,
		Resources:         resources,
		EscalationPath:    escalationPath(responders, crisisTeam),
	}

	switch severity {
	case SeverityCritical:
		p.ImmediateActions = []ProtocolAction{
			{Type: ActionNotifyResponders, Priority: PriorityImmediate, Automated: true},
			{Type: ActionProvideResources, Priority: PriorityImmediate, Automated: true},
			{Type: ActionConnectResponder, Priority: PriorityImmediate, Automated: true},
		}
		p.FollowUpActions = []ProtocolAction{
			{Type: ActionScheduleFollowUp, Priority: PriorityUrgent, Automated: false},
		}
	case SeverityHigh:
		p.ImmediateActions = []ProtocolAction{
			{Type: ActionProvideResources, Priority: PriorityUrgent, Automated: true},
			{Type: ActionFlagForReview, Priority: PriorityUrgent, Automated: true},
		}
		p.FollowUpActions = []ProtocolAction{
			{Type: ActionOfferPeerConnection, Priority: PriorityStandard, Automated: false},
		}
	default:
		p.ImmediateActions = []ProtocolAction{
			{Type: ActionProvideResources, Priority: PriorityStandard, Automated: true},
		}
	}

	return p
}

// escalationPath declares the timed escalation windows for the external
// responder-facing scheduler. The engine itself never blocks on these.
// Level 1 stays with the assigned responders; level 2 widens to the crisis
// team roster.
func escalationPath(responders, crisisTeam []string) []EscalationStep {
	levelTwo := append(append([]string{}, responders...), crisisTeam...)
	return []EscalationStep{
		{
			Level:            1,
			Condition:        "no human response within timeframe",
			Action:           "escalate_to_senior_reviewer",
			NotifyList:       responders,
			TimeframeMinutes: 5,
		},
		{
			Level:            2,
			Condition:        "crisis indicators persist",
			Action:           "notify_crisis_team_and_admin",
			NotifyList:       levelTwo,
			TimeframeMinutes: 15,
		},
	}
}
