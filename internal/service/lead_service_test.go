package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kin-spark-go/internal/model"
)

type recordingLeadRepo struct {
	fakeLeadRepo
	exported      []model.Lead
	updatedID     uint
	updatedStatus string
	updatedNotes  string
	saveCalled    bool
}

func (r *recordingLeadRepo) Save(lead *model.Lead) error {
	r.saveCalled = true
	return nil
}

func (r *recordingLeadRepo) UpdateStatus(id uint, status, adminNotes string) error {
	r.updatedID = id
	r.updatedStatus = status
	r.updatedNotes = adminNotes
	return nil
}

func (r *recordingLeadRepo) ListAllByClient(uint, string, *time.Time, *time.Time) ([]model.Lead, error) {
	return r.exported, nil
}

func TestCaptureRequiresEmail(t *testing.T) {
	leadRepo := &recordingLeadRepo{}
	svc := NewLeadService(leadRepo, &fakeConvRepo{}, &fakeAnalytics{})

	_, err := svc.Capture(context.Background(), &model.Client{ID: 42}, &model.Lead{Email: "   "})
	assert.Error(t, err)
	assert.False(t, leadRepo.saveCalled)
}

func TestUpdateStatusValidatesEnum(t *testing.T) {
	leadRepo := &recordingLeadRepo{}
	leadRepo.lead = &model.Lead{ID: 7, UUID: "lead-1", ClientID: 42, Status: model.LeadStatusNew}
	svc := NewLeadService(leadRepo, &fakeConvRepo{}, &fakeAnalytics{})

	_, err := svc.UpdateStatus(42, "lead-1", "bogus", "")
	assert.Error(t, err)
	assert.Zero(t, leadRepo.updatedID)

	lead, err := svc.UpdateStatus(42, "lead-1", model.LeadStatusContacted, "called on Tuesday")
	require.NoError(t, err)
	assert.Equal(t, uint(7), leadRepo.updatedID)
	assert.Equal(t, model.LeadStatusContacted, lead.Status)
	assert.Equal(t, "called on Tuesday", leadRepo.updatedNotes)
}

func TestExportCSVGuardsFormulaInjection(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	leadRepo := &recordingLeadRepo{exported: []model.Lead{
		{
			Name:             "=SUM(A1:A9)",
			Email:            "+ada@example.com",
			Phone:            "-86 139",
			Company:          "@cmd",
			Status:           model.LeadStatusNew,
			Notes:            "\tneeds pricing",
			AdminNotes:       "plain note",
			ConversationUUID: "conv-1",
			CreatedAt:        created,
		},
		{
			Name:      "Ada Lovelace",
			Email:     "ada@example.com",
			Status:    model.LeadStatusContacted,
			CreatedAt: created,
		},
	}}
	svc := NewLeadService(leadRepo, &fakeConvRepo{}, &fakeAnalytics{})

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(&buf, 42, "", nil, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"created_at", "name", "email", "phone", "company", "status", "notes", "admin_notes", "conversation"}, rows[0])

	// 危险前缀统一加单引号
	assert.Equal(t, "'=SUM(A1:A9)", rows[1][1])
	assert.Equal(t, "'+ada@example.com", rows[1][2])
	assert.Equal(t, "'-86 139", rows[1][3])
	assert.Equal(t, "'@cmd", rows[1][4])
	assert.Equal(t, "'\tneeds pricing", rows[1][6])
	assert.Equal(t, "plain note", rows[1][7])

	// 正常值不受影响
	assert.Equal(t, "Ada Lovelace", rows[2][1])
	assert.Equal(t, "ada@example.com", rows[2][2])
}

func TestSanitizeCSVCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"safe", "safe"},
		{"=1+1", "'=1+1"},
		{"+86", "'+86"},
		{"-3", "'-3"},
		{"@import", "'@import"},
		{"\tx", "'\tx"},
		{"\rx", "'\rx"},
		{"middle=ok", "middle=ok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeCSVCell(tt.in), "input %q", tt.in)
	}
}
