package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/infrastructure/persistence/models"
)

// memberRecord is one entry of a directory import file. Active defaults to
// true when omitted.
type memberRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	LeaderID string `json:"leader_id,omitempty"`
	Active   *bool  `json:"active,omitempty"`
}

type memberWriter interface {
	Upsert(ctx context.Context, member *models.TeamMemberModel) error
}

func parseMembers(r io.Reader) ([]memberRecord, error) {
	var records []memberRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}

	seen := make(map[string]int, len(records))
	for i := range records {
		rec := &records[i]
		rec.ID = strings.TrimSpace(rec.ID)
		rec.LeaderID = strings.TrimSpace(rec.LeaderID)
		if rec.ID == "" {
			return nil, fmt.Errorf("member %d: id is required", i)
		}
		if strings.TrimSpace(rec.Role) == "" {
			return nil, fmt.Errorf("member %s: role is required", rec.ID)
		}
		if rec.LeaderID == rec.ID {
			return nil, fmt.Errorf("member %s: cannot report to themselves", rec.ID)
		}
		if prev, ok := seen[rec.ID]; ok {
			return nil, fmt.Errorf("member %s: duplicate of entry %d", rec.ID, prev)
		}
		seen[rec.ID] = i
	}
	return records, nil
}

func (r memberRecord) toModel(now time.Time) *models.TeamMemberModel {
	m := &models.TeamMemberModel{
		ID:          r.ID,
		DisplayName: strings.TrimSpace(r.Name),
		Role:        strings.TrimSpace(r.Role),
		Active:      r.Active == nil || *r.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.LeaderID != "" {
		leader := r.LeaderID
		m.LeaderID = &leader
	}
	return m
}

func importMembers(ctx context.Context, w memberWriter, records []memberRecord, now time.Time) error {
	for _, rec := range records {
		if err := w.Upsert(ctx, rec.toModel(now)); err != nil {
			return fmt.Errorf("upsert member %s: %w", rec.ID, err)
		}
	}
	return nil
}
