// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/books"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/students"
)

var (
	findEntity string
	findLimit  int
)

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Run a fuzzy find against the configured backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg.Server.Debug)
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return runFind(cmd.Context(), a, findEntity, strings.Join(args, " "), findLimit, cmd.OutOrStdout())
	},
}

func init() {
	findCmd.Flags().StringVar(&findEntity, "entity", "books", "books or students")
	findCmd.Flags().IntVar(&findLimit, "limit", 0, "Maximum candidates (0 uses the configured default)")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	topStyle    = cellStyle.Foreground(lipgloss.Color("10"))
)

// candidateRow is the printable part of one candidate.
type candidateRow struct {
	id, label, category, reason string
	score                       float64
}

// runFind executes the find of entity and prints a table to w.
func runFind(ctx context.Context, a *app, entity, query string, limit int, w io.Writer) error {
	var (
		rows       []candidateRow
		confidence float64
		labelName  string
	)
	switch entity {
	case "books":
		res, err := a.books.Find(ctx, books.FindRequest{Query: query, Limit: limit})
		if err != nil {
			return err
		}
		for _, c := range res.Candidates {
			rows = append(rows, candidateRow{c.BookID, c.Title, c.Subject, string(c.Reason), c.Score})
		}
		confidence, labelName = res.Confidence, "TITLE"
	case "students":
		res, err := a.students.Find(ctx, students.FindRequest{Query: query, Limit: limit})
		if err != nil {
			return err
		}
		for _, c := range res.Candidates {
			rows = append(rows, candidateRow{c.StudentID, c.Name, c.Grade, string(c.Reason), c.Score})
		}
		confidence, labelName = res.Confidence, "NAME"
	default:
		return fmt.Errorf("unknown entity %q (want books or students)", entity)
	}

	if len(rows) == 0 {
		fmt.Fprintf(w, "No %s match %q.\n", entity, query)
		return nil
	}
	fmt.Fprintln(w, renderCandidates(labelName, rows))
	fmt.Fprintf(w, "%d candidate(s), confidence %.2f\n", len(rows), confidence)
	return nil
}

func renderCandidates(labelName string, rows []candidateRow) string {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{
			strconv.Itoa(i + 1),
			r.id,
			r.label,
			r.category,
			strconv.FormatFloat(r.score, 'f', 3, 64),
			r.reason,
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "ID", labelName, "CATEGORY", "SCORE", "REASON").
		Rows(cells...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch row {
			case table.HeaderRow:
				return headerStyle
			case 0:
				return topStyle
			}
			return cellStyle
		})
	return t.String()
}
