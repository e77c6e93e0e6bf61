package sqlite

import (
	"database/sql"
	"time"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
)

// ─── Transitions ────────────────────────────────────────────────────────────

// RecordTransition appends one transition to the journal.
func (d *DB) RecordTransition(t domain.Transition) error {
	_, err := d.db.Exec(
		`INSERT INTO transitions (id, at, op, resource, client, requested, from_level, to_level, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.At.UnixNano(), t.Op, t.Resource, t.Client,
		int64(t.Requested), int64(t.From), int64(t.To), t.Outcome.String(), nullStr(t.Error),
	)
	return err
}

// Transitions returns the most recent transitions, newest first. An empty
// resource matches every resource; limit <= 0 means no limit.
func (d *DB) Transitions(resource string, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT id, at, op, resource, client, requested, from_level, to_level, outcome, error
		 FROM transitions WHERE (? = '' OR resource = ?) ORDER BY seq DESC LIMIT ?`,
		resource, resource, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies journaled transitions by outcome.
func (d *DB) OutcomeCounts() (map[domain.Outcome]int, error) {
	rows, err := d.db.Query(`SELECT outcome, COUNT(*) FROM transitions GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Outcome]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[domain.ParseOutcome(name)] += n
	}
	return counts, rows.Err()
}

func scanTransition(s scanner) (domain.Transition, error) {
	var t domain.Transition
	var at, requested, from, to int64
	var outcome string
	var errText sql.NullString

	err := s.Scan(&t.ID, &at, &t.Op, &t.Resource, &t.Client,
		&requested, &from, &to, &outcome, &errText)
	if err != nil {
		return t, err
	}
	t.At = time.Unix(0, at)
	t.Requested = domain.Level(requested)
	t.From = domain.Level(from)
	t.To = domain.Level(to)
	t.Outcome = domain.ParseOutcome(outcome)
	if errText.Valid {
		t.Error = errText.String
	}
	return t, nil
}

// ─── Rollbacks & Locks ──────────────────────────────────────────────────────

// Rollback is a journaled voltage revert.
type Rollback struct {
	At    time.Time    `json:"at"`
	VDD   string       `json:"vdd"`
	Level domain.Level `json:"level"`
}

// RecordRollback notes that vdd's voltage was restored to level.
func (d *DB) RecordRollback(at time.Time, vdd domain.VDD, level domain.Level) error {
	_, err := d.db.Exec(`INSERT INTO rollbacks (at, vdd, level) VALUES (?, ?, ?)`,
		at.UnixNano(), vdd.String(), int64(level))
	return err
}

// Rollbacks returns recent voltage reverts, newest first.
func (d *DB) Rollbacks(limit int) ([]Rollback, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(`SELECT at, vdd, level FROM rollbacks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rollback
	for rows.Next() {
		var r Rollback
		var at, level int64
		if err := rows.Scan(&at, &r.VDD, &level); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.Level = domain.Level(level)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordLock notes a lock count change on vdd.
func (d *DB) RecordLock(at time.Time, vdd domain.VDD, count int) error {
	_, err := d.db.Exec(`INSERT INTO lock_events (at, vdd, count) VALUES (?, ?, ?)`,
		at.UnixNano(), vdd.String(), count)
	return err
}

// LastLockCount returns the most recently journaled lock count of vdd.
func (d *DB) LastLockCount(vdd domain.VDD) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT count FROM lock_events WHERE vdd = ? ORDER BY id DESC LIMIT 1`,
		vdd.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// ─── Observer ───────────────────────────────────────────────────────────────

// Journal adapts DB to the resource framework's observer interface.
// Write failures are logged; the transition itself already happened.
type Journal struct {
	db  *DB
	log logr.Logger
	now func() time.Time
}

// NewJournal returns an observer writing to db.
func NewJournal(db *DB, log logr.Logger) *Journal {
	return &Journal{db: db, log: log.WithName("journal"), now: time.Now}
}

// TransitionObserved journals t.
func (j *Journal) TransitionObserved(t domain.Transition) {
	if err := j.db.RecordTransition(t); err != nil {
		j.log.Error(err, "journal transition", "id", t.ID, "resource", t.Resource)
	}
}

// VoltageReverted journals a rollback.
func (j *Journal) VoltageReverted(vdd domain.VDD, level domain.Level) {
	if err := j.db.RecordRollback(j.now(), vdd, level); err != nil {
		j.log.Error(err, "journal rollback", "vdd", vdd.String())
	}
}

// LockChanged journals a lock count change.
func (j *Journal) LockChanged(vdd domain.VDD, count int) {
	if err := j.db.RecordLock(j.now(), vdd, count); err != nil {
		j.log.Error(err, "journal lock", "vdd", vdd.String())
	}
}
