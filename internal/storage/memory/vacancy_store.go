// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// VacancyStore keeps vacancies and skills in maps with the same insert-once rules as Postgres.
type VacancyStore struct {
	mu         sync.RWMutex
	skills     map[string]int64
	vacancies  map[int64]int64
	joins      map[int64][]int64
	nextSkill  int64
	nextRecord int64
}

// NewVacancyStore constructs an empty VacancyStore.
func NewVacancyStore() *VacancyStore {
	return &VacancyStore{
		skills:    make(map[string]int64),
		vacancies: make(map[int64]int64),
		joins:     make(map[int64][]int64),
	}
}

// SkillExists reports whether name is stored.
func (s *VacancyStore) SkillExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.skills[name]
	return ok, nil
}

// SkillsExist answers SkillExists for each name.
func (s *VacancyStore) SkillsExist(_ context.Context, names []string) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, len(names))
	for i, n := range names {
		_, out[i] = s.skills[n]
	}
	return out, nil
}

// UpsertSkills returns ids aligned with names, inserting unknown names.
func (s *VacancyStore) UpsertSkills(_ context.Context, names []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(names))
	for i, n := range names {
		out[i] = s.skillIDLocked(n)
	}
	return out, nil
}

// UpsertVacancies inserts unknown external ids with their skills and reports stored
// skills for the rest.
func (s *VacancyStore) UpsertVacancies(_ context.Context, descriptors []vacancy.Descriptor) ([]vacancy.PersistedVacancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[int64]bool, len(descriptors))
	for _, d := range descriptors {
		if _, ok := s.vacancies[d.ExternalID]; ok {
			known[d.ExternalID] = true
		}
	}

	out := make([]vacancy.PersistedVacancy, len(descriptors))
	for i, d := range descriptors {
		id, ok := s.vacancies[d.ExternalID]
		if !ok {
			s.nextRecord++
			id = s.nextRecord
			s.vacancies[d.ExternalID] = id
			seen := make(map[int64]struct{}, len(d.Skills))
			skillIDs := make([]int64, 0, len(d.Skills))
			for _, name := range d.Skills {
				sid := s.skillIDLocked(name)
				if _, dup := seen[sid]; dup {
					continue
				}
				seen[sid] = struct{}{}
				skillIDs = append(skillIDs, sid)
			}
			s.joins[id] = skillIDs
		}
		out[i] = vacancy.PersistedVacancy{
			ID:         id,
			Name:       d.Name,
			ExternalID: d.ExternalID,
			SkillIDs:   append([]int64{}, s.joins[id]...),
			Existing:   known[d.ExternalID],
		}
	}
	return out, nil
}

// Counts returns the number of stored vacancies, skills and join rows.
func (s *VacancyStore) Counts() (vacancies, skills, joins int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ids := range s.joins {
		joins += len(ids)
	}
	return len(s.vacancies), len(s.skills), joins
}

func (s *VacancyStore) skillIDLocked(name string) int64 {
	if id, ok := s.skills[name]; ok {
		return id
	}
	s.nextSkill++
	s.skills[name] = s.nextSkill
	return s.nextSkill
}
