package etl

import (
	"testing"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/mapper"
)

func TestBuildUsers(t *testing.T) {
	account := uuid.New()
	clRef := uuid.New()
	dept := uuid.New()
	cat := uuid.New()

	users, skills, emails := buildUsers(
		[]mapper.UserRecord{
			{
				RefKey:      account.String(),
				ClRefKey:    clRef.String(),
				Description: "Operator One",
				Email:       "op1@example.com",
				ConLimit:    5,
				StartHour:   "09:00:00",
				EndHour:     "18:00:00",
			},
			{RefKey: uuid.New().String(), Description: "Robot", Service: true},
			{RefKey: "not-a-uuid", Description: "Broken"},
		},
		[]mapper.DepartmentRecord{
			{RefKey: dept.String(), Description: "accounting_consultants"},
		},
		[]mapper.UserDepartmentRecord{
			{UserKey: account.String(), DepartmentKey: dept.String()},
		},
		[]mapper.UserLanguageRecord{
			{UserKey: account.String(), Language: "ru"},
			{UserKey: account.String(), Language: "uz"},
		},
		[]mapper.ConsultantListRecord{
			{UserKey: account.String(), Enabled: true},
		},
		[]mapper.UserSkillRecord{
			{UserKey: account.String(), CategoryKey: cat.String()},
		},
	)

	if len(users) != 1 {
		t.Fatalf("got %d users, want 1 (service and broken rows dropped)", len(users))
	}
	u := users[0]
	if u.AccountID != account {
		t.Errorf("account = %s", u.AccountID)
	}
	if u.ClRefKey == nil || *u.ClRefKey != clRef {
		t.Errorf("cl_ref_key = %v", u.ClRefKey)
	}
	if u.Department != "accounting_consultants" {
		t.Errorf("department = %q", u.Department)
	}
	if u.ChatwootTeam != "accounting" {
		t.Errorf("chatwoot_team = %q", u.ChatwootTeam)
	}
	if !u.RU || !u.UZ {
		t.Errorf("languages ru=%v uz=%v", u.RU, u.UZ)
	}
	if !u.ConsultationEnabled {
		t.Error("consultant list row must enable the operator")
	}
	if u.StartHour == nil || *u.StartHour != "09:00" {
		t.Errorf("start hour = %v", u.StartHour)
	}

	if len(skills) != 1 || skills[0].UserKey != clRef || skills[0].CategoryKey != cat {
		t.Errorf("skills = %+v", skills)
	}
	if emails[account] != "op1@example.com" {
		t.Errorf("email = %q", emails[account])
	}
}

func TestChatwootTeam(t *testing.T) {
	tests := []struct {
		department string
		want       string
	}{
		{"accounting_consultants", "accounting"},
		{"support_first_line", "tech_support"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := chatwootTeam(tt.department); got != tt.want {
			t.Errorf("chatwootTeam(%q) = %q, want %q", tt.department, got, tt.want)
		}
	}
}

func TestBuildUsersDisabledByDefault(t *testing.T) {
	users, _, _ := buildUsers(
		[]mapper.UserRecord{{RefKey: uuid.New().String(), Description: "Op"}},
		nil, nil, nil, nil, nil,
	)
	if len(users) != 1 {
		t.Fatal("want one user")
	}
	if users[0].ConsultationEnabled {
		t.Error("operator without a consultant-list row must stay disabled")
	}
}
