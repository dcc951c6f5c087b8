package postgres

// schemaStatements create the vacancy, skill and join tables.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS skill (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS vacancy (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	external_id BIGINT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS vacancy_skill (
	vacancy_id BIGINT NOT NULL REFERENCES vacancy (id) ON DELETE CASCADE,
	skill_id   BIGINT NOT NULL REFERENCES skill (id) ON DELETE CASCADE,
	PRIMARY KEY (vacancy_id, skill_id)
)`,
	`CREATE INDEX IF NOT EXISTS vacancy_skill_skill_id_idx ON vacancy_skill (skill_id)`,
}

const (
	skillExistsSQL     = `SELECT EXISTS (SELECT 1 FROM skill WHERE name = $1)`
	selectSkillIDsSQL  = `SELECT name, id FROM skill WHERE name = ANY($1)`
	insertSkillsSQL    = `INSERT INTO skill (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING RETURNING name, id`
	selectVacancyIDSQL = `SELECT external_id, id FROM vacancy WHERE external_id = ANY($1)`
	insertVacanciesSQL = `INSERT INTO vacancy (name, external_id) SELECT * FROM unnest($1::text[], $2::bigint[]) RETURNING external_id, id`
	insertJoinsSQL     = `INSERT INTO vacancy_skill (vacancy_id, skill_id) SELECT * FROM unnest($1::bigint[], $2::bigint[]) ON CONFLICT DO NOTHING`
	selectJoinsSQL     = `SELECT vacancy_id, skill_id FROM vacancy_skill WHERE vacancy_id = ANY($1) ORDER BY vacancy_id, skill_id`
)
