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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mattn/go-isatty"
	"google.golang.org/api/option"

	"github.com/ARUOHTA/cram-books-mcp/services/cram"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/books"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/config"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/idrules"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/planner"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
	badgerstore "github.com/ARUOHTA/cram-books-mcp/services/cram/storage/badger"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/students"
)

// app holds the wired services of one process.
type app struct {
	cfg      *config.Config
	workbook sheets.Workbook
	db       *badgerstore.DB
	books    *books.Service
	students *students.Service
	planner  *planner.Service
	closers  []io.Closer
}

// Close releases the token store and backend clients.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newLogger returns a JSON handler when w is not a terminal and a text
// handler otherwise.
func newLogger(w *os.File, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// buildApp wires the backend, token store and services from cfg.
//
// Description:
//
//	The memory backend is seeded with empty books and students sheets so
//	a fresh process can create records. The token store is BadgerDB on
//	disk when confirm.store_path is set and in memory otherwise.
//
// Outputs:
//
//	*app - Wired services. Close it when done.
//	error - Non-nil if the backend or store cannot be opened.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	wb, closer, err := openWorkbook(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.workbook = wb
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	dbCfg := badgerstore.InMemoryConfig()
	if cfg.Confirm.StorePath != "" {
		dbCfg = badgerstore.DefaultConfig()
		dbCfg.Path = cfg.Confirm.StorePath
	}
	dbCfg.Logger = logger
	db, err := badgerstore.OpenDB(dbCfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening token store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	rules := idrules.DefaultTable()
	if cfg.IDRules != nil && cfg.IDRules.File != "" {
		data, err := os.ReadFile(cfg.IDRules.File)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("reading id rules: %w", err)
		}
		t, err := idrules.LoadTable(ctx, data)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		rules = *t
	}

	mgr := confirm.NewManager(
		confirm.NewBadgerStore(db, logger),
		cfg.Confirm.TokenTTL,
		confirm.WithLogger(logger),
	)

	a.books = books.NewService(books.Deps{
		Workbook:    wb,
		Source:      sheets.Ref{SpreadsheetID: cfg.Sources.BooksFileID, Sheet: cfg.Sources.BooksSheet},
		Columns:     cfg.Columns.Books,
		Search:      cfg.BookSearch(),
		Rules:       rules,
		Confirm:     mgr,
		FindDebug:   cfg.Features.EnableFindDebug,
		ObserveFind: cram.ObserveFind,
		Logger:      logger.With("service", "books"),
	})
	a.students = students.NewService(students.Deps{
		Workbook:    wb,
		Source:      sheets.Ref{SpreadsheetID: cfg.Sources.StudentsFileID, Sheet: cfg.Sources.StudentsSheet},
		Columns:     cfg.Columns.Students,
		Search:      cfg.StudentSearch(),
		Confirm:     mgr,
		FindDebug:   cfg.Features.EnableFindDebug,
		ObserveFind: cram.ObserveFind,
		Logger:      logger.With("service", "students"),
	})
	a.planner = planner.NewService(planner.Deps{
		Workbook:         wb,
		Students:         a.students,
		WeeklySheet:      cfg.Sources.PlannerWeeklySheet,
		WeeklyAlternates: cfg.Sources.PlannerWeeklyAlternates,
		MonthlySheet:     cfg.Sources.PlannerMonthlySheet,
		Logger:           logger.With("service", "planner"),
	})
	return a, nil
}

// handlers builds the HTTP op table over a's services.
func (a *app) handlers(logger *slog.Logger) *cram.Handlers {
	return cram.NewHandlers(cram.Deps{
		Books:           a.books,
		Students:        a.students,
		Planner:         a.planner,
		Workbook:        a.workbook,
		TableSource:     sheets.Ref{SpreadsheetID: a.cfg.Sources.BooksFileID, Sheet: a.cfg.Sources.BooksSheet},
		EnableTableRead: a.cfg.Features.EnableTableRead,
		Logger:          logger,
	})
}

// openWorkbook creates the configured backend. The closer may be nil.
func openWorkbook(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sheets.Workbook, io.Closer, error) {
	var opts []option.ClientOption
	if cfg.Backend.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Backend.CredentialsFile))
	}

	switch cfg.Backend.Kind {
	case "memory":
		wb := sheets.NewMemoryWorkbook()
		seedMemory(wb, cfg)
		logger.Warn("using in-memory workbook; data is lost on exit")
		return wb, nil, nil
	case "local":
		if err := os.MkdirAll(cfg.Backend.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
		logger.Info("using local workbook", slog.String("dir", cfg.Backend.Dir))
		return sheets.NewBlobWorkbook(sheets.NewDirBlobStore(cfg.Backend.Dir), logger), nil, nil
	case "gcs":
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating GCS client: %w", err)
		}
		logger.Info("using GCS workbook",
			slog.String("bucket", cfg.Backend.Bucket),
			slog.String("prefix", cfg.Backend.Prefix),
		)
		store := sheets.NewGCSBlobStore(client, cfg.Backend.Bucket, cfg.Backend.Prefix)
		return sheets.NewBlobWorkbook(store, logger), client, nil
	case "s3":
		client, err := newS3Client(ctx, cfg.Backend)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using S3 workbook",
			slog.String("bucket", cfg.Backend.Bucket),
			slog.String("prefix", cfg.Backend.Prefix),
			slog.String("endpoint", cfg.Backend.Endpoint),
		)
		store := sheets.NewS3BlobStore(client, cfg.Backend.Bucket, cfg.Backend.Prefix)
		return sheets.NewBlobWorkbook(store, logger), nil, nil
	case "google":
		wb, err := sheets.NewGoogleWorkbook(ctx, logger, opts...)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Google Sheets workbook")
		return wb, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
}

// newS3Client builds an S3 client from the default AWS credential chain.
func newS3Client(ctx context.Context, b config.BackendConfig) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if b.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(b.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = &b.Endpoint
			o.UsePathStyle = true
		}
	}), nil
}

// Seed headers of the memory backend, one per default column alias.
var (
	bookSeedHeader    = []string{"参考書ID", "参考書名", "教科", "月間目標", "単位当たり処理量", "章立て", "章の名前", "章のはじめ", "章の終わり", "番号の数え方", "別名"}
	studentSeedHeader = []string{"生徒ID", "氏名", "ふりがな", "学年", "スピードプランナーID", "面談メモID", "タグ"}
)

func seedMemory(wb *sheets.MemoryWorkbook, cfg *config.Config) {
	booksSheet := cfg.Sources.BooksSheet
	if booksSheet == "" {
		booksSheet = "books"
	}
	studentsSheet := cfg.Sources.StudentsSheet
	if studentsSheet == "" {
		studentsSheet = "students"
	}
	wb.PutSheet(cfg.Sources.BooksFileID, booksSheet, [][]string{bookSeedHeader})
	wb.PutSheet(cfg.Sources.StudentsFileID, studentsSheet, [][]string{studentSeedHeader})
}
