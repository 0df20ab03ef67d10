package crisis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalationPathRosters(t *testing.T) {
	responders := []string{"responder-1", "responder-2"}
	crisisTeam := []string{"team-lead-1", "admin-1"}

	p := buildProtocol(SeverityCritical, []string{"immediate:end_my_life"}, nil, responders, crisisTeam)
	require.Len(t, p.EscalationPath, 2)

	first := p.EscalationPath[0]
	assert.Equal(t, 1, first.Level)
	assert.Equal(t, responders, first.NotifyList)

	second := p.EscalationPath[1]
	assert.Equal(t, 2, second.Level)
	assert.Equal(t, "notify_crisis_team_and_admin", second.Action)
	assert.Equal(t, []string{"responder-1", "responder-2", "team-lead-1", "admin-1"}, second.NotifyList,
		"level two widens to the crisis team roster")
}

func TestProtocolActionsBySeverity(t *testing.T) {
	critical := buildProtocol(SeverityCritical, nil, nil, nil, nil)
	require.Len(t, critical.ImmediateActions, 3)
	assert.Equal(t, ActionNotifyResponders, critical.ImmediateActions[0].Type)

	high := buildProtocol(SeverityHigh, nil, nil, nil, nil)
	require.Len(t, high.ImmediateActions, 2)
	assert.Equal(t, ActionFlagForReview, high.ImmediateActions[1].Type)

	medium := buildProtocol(SeverityMedium, nil, nil, nil, nil)
	require.Len(t, medium.ImmediateActions, 1)
	assert.Equal(t, ActionProvideResources, medium.ImmediateActions[0].Type)
}
