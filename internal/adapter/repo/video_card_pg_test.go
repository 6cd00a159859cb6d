package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/sqlinline"
)

type recordedExec struct {
	query string
	args  []any
}

type stubTx struct {
	execs     []recordedExec
	failOn    string
	committed bool
}

func (s *stubTx) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, recordedExec{query: query, args: args})
	if s.failOn != "" && query == s.failOn {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.CommandTag{}, nil
}

func (s *stubTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (s *stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTx) InTx(_ context.Context, fn func(infra.SQLExecutor) error) error {
	if err := fn(s); err != nil {
		return err
	}
	s.committed = true
	return nil
}

func TestPGSaveCardsRewritesList(t *testing.T) {
	tx := &stubTx{}
	store := NewVideoCardPG(tx)
	if err := store.SaveCards(context.Background(), sampleCards(time.Now())); err != nil {
		t.Fatalf("SaveCards error: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected the transaction to commit")
	}
	if len(tx.execs) != 3 {
		t.Fatalf("execs = %d, want 3", len(tx.execs))
	}
	if tx.execs[0].query != sqlinline.QDeleteVideoCards {
		t.Fatalf("first statement = %q, want delete", tx.execs[0].query)
	}
	insert := tx.execs[1]
	if insert.query != sqlinline.QInsertVideoCard || len(insert.args) != 12 {
		t.Fatalf("unexpected insert %q with %d args", insert.query, len(insert.args))
	}
	if got := insert.args[7]; got != "error" {
		t.Fatalf("status arg = %v, want error", got)
	}
	second := tx.execs[2]
	if second.args[4] != "9:16" || second.args[5] != 6 {
		t.Fatalf("clip args = %v %v, want 9:16 6", second.args[4], second.args[5])
	}
}

func TestPGSaveCardsRollsBackOnInsertError(t *testing.T) {
	tx := &stubTx{failOn: sqlinline.QInsertVideoCard}
	store := NewVideoCardPG(tx)
	err := store.SaveCards(context.Background(), sampleCards(time.Now()))
	if err == nil || !strings.Contains(err.Error(), "insert b") {
		t.Fatalf("SaveCards error = %v, want insert failure", err)
	}
	if tx.committed {
		t.Fatal("transaction must not commit after a failed insert")
	}
}

func TestPGEnsureSchema(t *testing.T) {
	tx := &stubTx{}
	if err := NewVideoCardPG(tx).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	if len(tx.execs) != 1 || tx.execs[0].query != sqlinline.QCreateVideoCards {
		t.Fatalf("unexpected statements %+v", tx.execs)
	}
}
