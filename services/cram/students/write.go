// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package students

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/idrules"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

// Create appends a student row and returns its allocated id.
//
// Description:
//
//	Record keys are matched to headers by header key; unknown keys are
//	ignored. Name, grade, planner and meeting ids then fill their columns
//	when the record left them empty. The id is the prefix (default "s")
//	plus the next three-digit sequence.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, span := tracer.Start(ctx, "students.Create")
	defer span.End()

	ref := s.ref(req.Source)
	g, ix, err := s.loadKeyed(ctx, ref)
	if err != nil {
		return CreateResult{}, err
	}

	prefix := strings.TrimSpace(req.IDPrefix)
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	idCol := ix.Col(fieldID)
	ids := make([]string, 0, len(g))
	for _, row := range g.From(1) {
		ids = append(ids, rowblock.Cell(row, idCol))
	}
	id := idrules.NextID(prefix, ids)

	row := ix.NewRow()
	for k, v := range req.Record {
		if c := columns.Pick(ix.Headers(), k); c != columns.Missing {
			row[c] = cellText(v)
		}
	}
	row = ix.Set(row, fieldID, id)
	for field, v := range map[string]string{
		fieldName:    req.Name,
		fieldGrade:   req.Grade,
		fieldPlanner: req.PlannerSheetID,
		fieldMeeting: req.MeetingDocID,
	} {
		if v != "" && ix.Get(row, field) == "" {
			row = ix.Set(row, field, v)
		}
	}

	if err := s.wb.AppendRows(ctx, ref, [][]string{row}); err != nil {
		return CreateResult{}, err
	}
	span.SetAttributes(attribute.String("student_id", id))
	s.logger.Info("student created", slog.String("student_id", id))
	return CreateResult{ID: id, Created: true}, nil
}

// updatePayload is the redeemed state of an update token.
type updatePayload struct {
	Updates map[string]any `json:"updates"`
}

// Update previews or applies cell changes to a student row.
//
// Without a token the differing cells are previewed per header and a
// token bound to the student id is issued. With a token the row is
// located again and every resolvable key is written.
//
// Outputs:
//
//	any - confirm.Pending[UpdatePreview] or UpdateResult.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (any, error) {
	ctx, span := tracer.Start(ctx, "students.Update")
	defer span.End()

	id := strings.TrimSpace(req.StudentID)
	if id == "" {
		return nil, api.BadRequest("student_id is required")
	}
	span.SetAttributes(attribute.String("student_id", id), attribute.Bool("confirm", req.ConfirmToken != ""))

	ref := s.ref(req.Source)
	if req.ConfirmToken == "" {
		g, ix, err := s.loadKeyed(ctx, ref)
		if err != nil {
			return nil, err
		}
		r, err := locate(g, ix, id)
		if err != nil {
			return nil, err
		}
		row := g.Row(r)
		preview := UpdatePreview{StudentID: id, Diffs: map[string]Diff{}}
		for k, v := range req.Updates {
			c := columns.Pick(ix.Headers(), k)
			if c == columns.Missing {
				continue
			}
			from, to := rowblock.Cell(row, c), cellText(v)
			if from != to {
				preview.Diffs[ix.Headers()[c]] = Diff{From: from, To: to}
			}
		}
		prop, err := s.confirm.Propose(ctx, kindUpdate, id, updatePayload{Updates: req.Updates})
		if err != nil {
			return nil, err
		}
		return confirm.NewPending(prop, preview), nil
	}

	var p updatePayload
	err := s.confirm.Redeem(ctx, kindUpdate, req.ConfirmToken, id, &p, func(ctx context.Context) error {
		return s.writeUpdates(ctx, ref, id, p.Updates)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("student updated", slog.String("student_id", id), slog.Int("fields", len(p.Updates)))
	return UpdateResult{StudentID: id, Updated: true}, nil
}

func (s *Service) writeUpdates(ctx context.Context, ref sheets.Ref, id string, updates map[string]any) error {
	g, ix, err := s.loadKeyed(ctx, ref)
	if err != nil {
		return err
	}
	r, err := locate(g, ix, id)
	if err != nil {
		return err
	}
	for k, v := range updates {
		c := columns.Pick(ix.Headers(), k)
		if c == columns.Missing {
			continue
		}
		if err := s.wb.WriteCells(ctx, ref, r, c, [][]string{{cellText(v)}}); err != nil {
			return err
		}
	}
	return nil
}

// Delete previews or removes a student row.
//
// Outputs:
//
//	any - confirm.Pending[DeletePreview] or DeleteResult.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (any, error) {
	ctx, span := tracer.Start(ctx, "students.Delete")
	defer span.End()

	id := strings.TrimSpace(req.StudentID)
	if id == "" {
		return nil, api.BadRequest("student_id is required")
	}
	span.SetAttributes(attribute.String("student_id", id), attribute.Bool("confirm", req.ConfirmToken != ""))

	ref := s.ref(req.Source)
	if req.ConfirmToken == "" {
		g, ix, err := s.loadKeyed(ctx, ref)
		if err != nil {
			return nil, err
		}
		r, err := locate(g, ix, id)
		if err != nil {
			return nil, err
		}
		prop, err := s.confirm.Propose(ctx, kindDelete, id, DeletePreview{StudentID: id, Row: r + 1})
		if err != nil {
			return nil, err
		}
		return confirm.NewPending(prop, DeletePreview{StudentID: id, Row: r + 1}), nil
	}

	var row int
	err := s.confirm.Redeem(ctx, kindDelete, req.ConfirmToken, id, nil, func(ctx context.Context) error {
		g, ix, err := s.loadKeyed(ctx, ref)
		if err != nil {
			return err
		}
		r, err := locate(g, ix, id)
		if err != nil {
			return err
		}
		row = r + 1
		return s.wb.DeleteRows(ctx, ref, r, 1)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("student deleted", slog.String("student_id", id), slog.Int("row", row))
	return DeleteResult{Deleted: true}, nil
}
