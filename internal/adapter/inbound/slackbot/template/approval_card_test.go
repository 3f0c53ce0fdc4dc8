package template_test

import (
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/sentinel/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

func TestBuildApprovalBlocks_Buttons(t *testing.T) {
	blocks := template.BuildApprovalBlocks(outbound.ApprovalNotification{
		AuditID:     "audit-9",
		ActionType:  "rollback_requested",
		Description: "Roll production back to 9f2c1ab",
		Environment: "production",
		SnapshotID:  "snap-1",
		Reason:      "bad release",
		RequestedBy: "alice",
	})

	text := allText(blocks)
	for _, want := range []string{"rollback requested", "`audit-9`", "production", "alice", "`snap-1`", "bad release"} {
		if !strings.Contains(text, want) {
			t.Errorf("approval card missing %q", want)
		}
	}

	values := map[string]string{}
	for _, b := range blocks {
		ab, ok := b.(*slackapi.ActionBlock)
		if !ok {
			continue
		}
		for _, elem := range ab.Elements.ElementSet {
			if btn, ok := elem.(*slackapi.ButtonBlockElement); ok {
				values[btn.ActionID] = btn.Value
			}
		}
	}
	if values[template.ActionIDApprove] != "approve:audit-9" {
		t.Errorf("approve value = %q", values[template.ActionIDApprove])
	}
	if values[template.ActionIDReject] != "reject:audit-9" {
		t.Errorf("reject value = %q", values[template.ActionIDReject])
	}
}

func TestParseDecisionValue(t *testing.T) {
	tests := []struct {
		value   string
		approve bool
		id      string
		ok      bool
	}{
		{"approve:abc", true, "abc", true},
		{"reject:abc", false, "abc", true},
		{"approve:", false, "", false},
		{"maybe:abc", false, "", false},
		{"abc", false, "", false},
	}
	for _, tt := range tests {
		approve, id, ok := template.ParseDecisionValue(tt.value)
		if approve != tt.approve || id != tt.id || ok != tt.ok {
			t.Errorf("ParseDecisionValue(%q) = %v %q %v", tt.value, approve, id, ok)
		}
	}
}
