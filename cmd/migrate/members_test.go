package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	members []*models.TeamMemberModel
	failOn  string
}

func (w *recordingWriter) Upsert(_ context.Context, m *models.TeamMemberModel) error {
	if m.ID == w.failOn {
		return errors.New("constraint violation")
	}
	w.members = append(w.members, m)
	return nil
}

func TestParseMembers(t *testing.T) {
	input := `[
		{"id": " L1 ", "name": "Lee", "role": "Sales Manager"},
		{"id": "U1", "name": "Asha", "role": "Sales", "leader_id": "L1"},
		{"id": "U2", "name": "Bo", "role": "Sales", "leader_id": "L1", "active": false}
	]`

	records, err := parseMembers(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "L1", records[0].ID)

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	w := &recordingWriter{}
	require.NoError(t, importMembers(context.Background(), w, records, now))
	require.Len(t, w.members, 3)

	assert.Nil(t, w.members[0].LeaderID)
	assert.True(t, w.members[0].Active)
	require.NotNil(t, w.members[1].LeaderID)
	assert.Equal(t, "L1", *w.members[1].LeaderID)
	assert.False(t, w.members[2].Active)
	assert.Equal(t, now, w.members[2].UpdatedAt)
}

func TestParseMembers_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"unknown field": `[{"id": "U1", "role": "Sales", "team": "x"}]`,
		"missing id":    `[{"role": "Sales"}]`,
		"missing role":  `[{"id": "U1"}]`,
		"self leader":   `[{"id": "U1", "role": "Sales", "leader_id": "U1"}]`,
		"duplicate id":  `[{"id": "U1", "role": "Sales"}, {"id": "U1", "role": "Sales"}]`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseMembers(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestImportMembers_StopsOnError(t *testing.T) {
	records := []memberRecord{{ID: "U1", Role: "Sales"}, {ID: "U2", Role: "Sales"}, {ID: "U3", Role: "Sales"}}
	w := &recordingWriter{failOn: "U2"}

	err := importMembers(context.Background(), w, records, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "U2")
	assert.Len(t, w.members, 1)
}
