// Package postgres provides the Postgres-backed vacancy store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// VacancyStore persists vacancies, skills and their join rows.
// Every multi-statement operation runs in one transaction.
type VacancyStore struct {
	pool   pool
	logger *zap.Logger
}

// NewVacancyStore connects a pgx pool using cfg.
func NewVacancyStore(ctx context.Context, cfg Config, logger *zap.Logger) (*VacancyStore, error) {
	if cfg.DSN == "" {
		return nil, eris.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "connect postgres")
	}
	return NewVacancyStoreWithPool(p, logger)
}

// NewVacancyStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewVacancyStoreWithPool(p pool, logger *zap.Logger) (*VacancyStore, error) {
	if p == nil {
		return nil, eris.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VacancyStore{pool: p, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *VacancyStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *VacancyStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "vacancy store: ping")
	}
	return nil
}

// Migrate creates the tables and indexes when they do not exist.
func (s *VacancyStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "vacancy store: migrate")
		}
	}
	return nil
}

// SkillExists reports whether a skill with this exact name is stored.
func (s *VacancyStore) SkillExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, skillExistsSQL, name).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "vacancy store: skill exists %q", name)
	}
	return exists, nil
}

// SkillsExist answers SkillExists for every name, in input order.
func (s *VacancyStore) SkillsExist(ctx context.Context, names []string) ([]bool, error) {
	out := make([]bool, len(names))
	if len(names) == 0 {
		return out, nil
	}
	ids, err := skillIDs(ctx, s.pool, names)
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		_, out[i] = ids[n]
	}
	return out, nil
}

// UpsertSkills inserts the missing names and returns ids aligned with names.
func (s *VacancyStore) UpsertSkills(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return []int64{}, nil
	}
	var out []int64
	err := s.inTx(ctx, "upsert skills", func(tx pgx.Tx) error {
		ids, err := upsertSkills(ctx, tx, names)
		if err != nil {
			return err
		}
		out = make([]int64, len(names))
		for i, n := range names {
			out[i] = ids[n]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertVacancies inserts vacancies whose external id is unknown, together with their
// skills and join rows, and returns one record per descriptor in input order.
// Vacancies that already exist are left untouched and report their stored skills.
func (s *VacancyStore) UpsertVacancies(ctx context.Context, descriptors []vacancy.Descriptor) ([]vacancy.PersistedVacancy, error) {
	if len(descriptors) == 0 {
		return []vacancy.PersistedVacancy{}, nil
	}
	var out []vacancy.PersistedVacancy
	err := s.inTx(ctx, "upsert vacancies", func(tx pgx.Tx) error {
		var err error
		out, err = upsertVacancies(ctx, tx, descriptors)
		return err
	})
	if err != nil {
		return nil, err
	}
	inserted := 0
	for _, v := range out {
		if !v.Existing {
			inserted++
		}
	}
	s.logger.Debug("vacancies upserted", zap.Int("descriptors", len(descriptors)), zap.Int("inserted", inserted))
	return out, nil
}

// inTx runs fn in a transaction. Any failure rolls back and is reported as ErrStoreTransaction.
func (s *VacancyStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return txFailure(err, op+": begin")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return txFailure(err, op)
	}
	if err := tx.Commit(ctx); err != nil {
		return txFailure(err, op+": commit")
	}
	committed = true
	return nil
}

func txFailure(err error, msg string) error {
	return fmt.Errorf("%w: %w", vacancy.ErrStoreTransaction, eris.Wrap(err, "vacancy store: "+msg))
}

func skillIDs(ctx context.Context, q querier, names []string) (map[string]int64, error) {
	rows, err := q.Query(ctx, selectSkillIDsSQL, names)
	if err != nil {
		return nil, eris.Wrap(err, "select skill ids")
	}
	return collectPairs[string](rows, "scan skill ids")
}

// upsertSkills returns the id of every distinct name, inserting the missing ones.
func upsertSkills(ctx context.Context, q querier, names []string) (map[string]int64, error) {
	ids, err := skillIDs(ctx, q, names)
	if err != nil {
		return nil, err
	}
	missing := missingKeys(names, ids)
	if len(missing) == 0 {
		return ids, nil
	}

	rows, err := q.Query(ctx, insertSkillsSQL, missing)
	if err != nil {
		return nil, eris.Wrap(err, "insert skills")
	}
	inserted, err := collectPairs[string](rows, "scan inserted skills")
	if err != nil {
		return nil, err
	}
	for n, id := range inserted {
		ids[n] = id
	}

	// Names inserted concurrently by another transaction are skipped by ON CONFLICT.
	if late := missingKeys(missing, ids); len(late) > 0 {
		again, err := skillIDs(ctx, q, late)
		if err != nil {
			return nil, err
		}
		for n, id := range again {
			ids[n] = id
		}
		if still := missingKeys(late, ids); len(still) > 0 {
			return nil, eris.Errorf("skills %v could not be resolved", still)
		}
	}
	return ids, nil
}

func upsertVacancies(ctx context.Context, q querier, descriptors []vacancy.Descriptor) ([]vacancy.PersistedVacancy, error) {
	externalIDs := make([]int64, len(descriptors))
	for i, d := range descriptors {
		externalIDs[i] = d.ExternalID
	}

	rows, err := q.Query(ctx, selectVacancyIDSQL, externalIDs)
	if err != nil {
		return nil, eris.Wrap(err, "select vacancy ids")
	}
	existing, err := collectPairs[int64](rows, "scan vacancy ids")
	if err != nil {
		return nil, err
	}

	// The first descriptor of an unknown external id is inserted; later duplicates share its row.
	var fresh []vacancy.Descriptor
	seen := make(map[int64]struct{})
	var skillNames []string
	seenSkill := make(map[string]struct{})
	for _, d := range descriptors {
		if _, ok := existing[d.ExternalID]; ok {
			continue
		}
		if _, ok := seen[d.ExternalID]; ok {
			continue
		}
		seen[d.ExternalID] = struct{}{}
		fresh = append(fresh, d)
		for _, sk := range d.Skills {
			if _, ok := seenSkill[sk]; !ok {
				seenSkill[sk] = struct{}{}
				skillNames = append(skillNames, sk)
			}
		}
	}

	skillIDByName := map[string]int64{}
	if len(skillNames) > 0 {
		if skillIDByName, err = upsertSkills(ctx, q, skillNames); err != nil {
			return nil, err
		}
	}

	newIDs := map[int64]int64{}
	skillsByVacancy := map[int64][]int64{}
	if len(fresh) > 0 {
		names := make([]string, len(fresh))
		ids := make([]int64, len(fresh))
		for i, d := range fresh {
			names[i] = d.Name
			ids[i] = d.ExternalID
		}
		rows, err := q.Query(ctx, insertVacanciesSQL, names, ids)
		if err != nil {
			return nil, eris.Wrap(err, "insert vacancies")
		}
		if newIDs, err = collectPairs[int64](rows, "scan inserted vacancies"); err != nil {
			return nil, err
		}

		var joinVacancy, joinSkill []int64
		for _, d := range fresh {
			vacancyID, ok := newIDs[d.ExternalID]
			if !ok {
				return nil, eris.Errorf("vacancy %d was not inserted", d.ExternalID)
			}
			sids := distinctSkillIDs(d.Skills, skillIDByName)
			skillsByVacancy[vacancyID] = sids
			for _, sid := range sids {
				joinVacancy = append(joinVacancy, vacancyID)
				joinSkill = append(joinSkill, sid)
			}
		}
		if len(joinVacancy) > 0 {
			if _, err := q.Exec(ctx, insertJoinsSQL, joinVacancy, joinSkill); err != nil {
				return nil, eris.Wrap(err, "insert vacancy skills")
			}
		}
	}

	if len(existing) > 0 {
		ids := make([]int64, 0, len(existing))
		for _, id := range existing {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		if err := storedSkills(ctx, q, ids, skillsByVacancy); err != nil {
			return nil, err
		}
	}

	out := make([]vacancy.PersistedVacancy, len(descriptors))
	for i, d := range descriptors {
		id, found := existing[d.ExternalID]
		if !found {
			id = newIDs[d.ExternalID]
		}
		skills := skillsByVacancy[id]
		if skills == nil {
			skills = []int64{}
		}
		out[i] = vacancy.PersistedVacancy{
			ID:         id,
			Name:       d.Name,
			ExternalID: d.ExternalID,
			SkillIDs:   skills,
			Existing:   found,
		}
	}
	return out, nil
}

func storedSkills(ctx context.Context, q querier, vacancyIDs []int64, into map[int64][]int64) error {
	rows, err := q.Query(ctx, selectJoinsSQL, vacancyIDs)
	if err != nil {
		return eris.Wrap(err, "select vacancy skills")
	}
	defer rows.Close()
	for rows.Next() {
		var vacancyID, skillID int64
		if err := rows.Scan(&vacancyID, &skillID); err != nil {
			return eris.Wrap(err, "scan vacancy skills")
		}
		into[vacancyID] = append(into[vacancyID], skillID)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "scan vacancy skills")
	}
	return nil
}

// collectPairs reads (key, id) rows into a map.
func collectPairs[K comparable](rows pgx.Rows, msg string) (map[K]int64, error) {
	defer rows.Close()
	out := make(map[K]int64)
	for rows.Next() {
		var (
			key K
			id  int64
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, msg)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, msg)
	}
	return out, nil
}

// missingKeys lists the distinct keys absent from ids, in first-seen order.
func missingKeys(keys []string, ids map[string]int64) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := ids[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func distinctSkillIDs(names []string, ids map[string]int64) []int64 {
	out := make([]int64, 0, len(names))
	seen := make(map[int64]struct{}, len(names))
	for _, n := range names {
		id := ids[n]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
