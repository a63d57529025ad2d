package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres via database/sql
	_ "modernc.org/sqlite"             // cgo-free sqlite

	"github.com/mwidz/offerlens/internal/model"
)

// SQLStore implements Store over Postgres (driver "pgx") or SQLite (driver
// "sqlite"). Queries are written with ? placeholders and rebound per driver;
// timestamps are supplied from Go so both dialects share the same SQL.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS job_links (
	id %s,
	link TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'discovered',
	discovered_at TIMESTAMP NOT NULL,
	fetched_at TIMESTAMP,
	analyzed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS job_details (
	link_id BIGINT PRIMARY KEY REFERENCES job_links(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	remote_type TEXT NOT NULL DEFAULT '',
	contract_type TEXT NOT NULL DEFAULT '',
	exp_level TEXT NOT NULL DEFAULT '',
	employment_type TEXT NOT NULL DEFAULT '',
	salary_min BIGINT,
	salary_max BIGINT,
	salary_currency TEXT NOT NULL DEFAULT '',
	salary_rate TEXT NOT NULL DEFAULT '',
	salary_type TEXT NOT NULL DEFAULT '',
	tech_stack TEXT NOT NULL DEFAULT '[]',
	description TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_analysis (
	link_id BIGINT PRIMARY KEY REFERENCES job_links(id) ON DELETE CASCADE,
	language TEXT NOT NULL DEFAULT '',
	short_summary TEXT NOT NULL DEFAULT '',
	cringe_score INTEGER NOT NULL,
	red_flag_score INTEGER NOT NULL,
	work_culture_score INTEGER NOT NULL,
	stability_score INTEGER NOT NULL,
	benefit_score INTEGER NOT NULL,
	inclusivity_score INTEGER NOT NULL,
	corporate_score INTEGER NOT NULL,
	fit_score INTEGER NOT NULL,
	fit_reasoning TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL CHECK (decision IN ('APPLY','WATCH','IGNORE')),
	analyzed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_catalog (
	tag TEXT PRIMARY KEY,
	usage_count BIGINT NOT NULL DEFAULT 0
);
`

// Open connects, verifies the connection, and ensures the schema exists.
// driver is "pgx" for Postgres or "sqlite" for a local file.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		// Single writer; avoids SQLITE_BUSY under the worker pool.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}

	idColumn := "BIGSERIAL PRIMARY KEY"
	if driver == "sqlite" {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, idColumn)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) InsertLink(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO job_links (link, status, discovered_at) VALUES (?, ?, ?) ON CONFLICT (link) DO NOTHING`),
		url, model.StatusDiscovered, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	return n > 0, nil
}

const linkColumns = `id, link, status, discovered_at, fetched_at, analyzed_at`

func (s *SQLStore) PendingLinks(ctx context.Context, limit int) ([]model.JobLink, error) {
	q := `SELECT ` + linkColumns + ` FROM job_links WHERE status <> 'analyzed' ORDER BY discovered_at, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryLinks(ctx, q, args...)
}

func (s *SQLStore) LinksByStatus(ctx context.Context, status model.Status, limit int) ([]model.JobLink, error) {
	q := `SELECT ` + linkColumns + ` FROM job_links WHERE status = ? ORDER BY discovered_at, id`
	args := []any{status}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryLinks(ctx, q, args...)
}

func (s *SQLStore) queryLinks(ctx context.Context, q string, args ...any) ([]model.JobLink, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []model.JobLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanLink(rows *sql.Rows) (model.JobLink, error) {
	var l model.JobLink
	var fetched, analyzed sql.NullTime
	if err := rows.Scan(&l.ID, &l.URL, &l.Status, &l.DiscoveredAt, &fetched, &analyzed); err != nil {
		return model.JobLink{}, fmt.Errorf("scan link: %w", err)
	}
	if fetched.Valid {
		l.FetchedAt = &fetched.Time
	}
	if analyzed.Valid {
		l.AnalyzedAt = &analyzed.Time
	}
	return l, nil
}

func (s *SQLStore) SaveDetail(ctx context.Context, d *model.JobDetail) error {
	techStack, err := json.Marshal(d.TechStack)
	if err != nil {
		return fmt.Errorf("marshal tech stack: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save detail: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO job_details (
			link_id, title, company, location,
			remote_type, contract_type, exp_level, employment_type,
			salary_min, salary_max, salary_currency, salary_rate, salary_type,
			tech_stack, description, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (link_id) DO UPDATE SET
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			remote_type = excluded.remote_type,
			contract_type = excluded.contract_type,
			exp_level = excluded.exp_level,
			employment_type = excluded.employment_type,
			salary_min = excluded.salary_min,
			salary_max = excluded.salary_max,
			salary_currency = excluded.salary_currency,
			salary_rate = excluded.salary_rate,
			salary_type = excluded.salary_type,
			tech_stack = excluded.tech_stack,
			description = excluded.description,
			fetched_at = excluded.fetched_at`),
		d.LinkID, d.Title, d.Company, d.Location,
		d.RemoteType, d.ContractType, d.ExpLevel, d.EmploymentType,
		nullableInt(d.SalaryMin), nullableInt(d.SalaryMax), d.SalaryCurrency, d.SalaryRate, d.SalaryType,
		string(techStack), d.Description, now,
	)
	if err != nil {
		return fmt.Errorf("upsert detail: %w", err)
	}

	// Forward-only: a re-fetch of an already-fetched or analyzed link keeps
	// its status.
	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE job_links SET status = ?, fetched_at = ? WHERE id = ? AND status = ?`),
		model.StatusFetched, now, d.LinkID, model.StatusDiscovered,
	)
	if err != nil {
		return fmt.Errorf("advance link to fetched: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) DetailByLinkID(ctx context.Context, linkID int64) (*model.JobDetail, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT link_id, title, company, location,
			remote_type, contract_type, exp_level, employment_type,
			salary_min, salary_max, salary_currency, salary_rate, salary_type,
			tech_stack, description, fetched_at
		FROM job_details WHERE link_id = ?`), linkID)

	var d model.JobDetail
	var salaryMin, salaryMax sql.NullInt64
	var techStack string
	err := row.Scan(&d.LinkID, &d.Title, &d.Company, &d.Location,
		&d.RemoteType, &d.ContractType, &d.ExpLevel, &d.EmploymentType,
		&salaryMin, &salaryMax, &d.SalaryCurrency, &d.SalaryRate, &d.SalaryType,
		&techStack, &d.Description, &d.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan detail: %w", err)
	}

	if salaryMin.Valid {
		v := int(salaryMin.Int64)
		d.SalaryMin = &v
	}
	if salaryMax.Valid {
		v := int(salaryMax.Int64)
		d.SalaryMax = &v
	}
	if err := json.Unmarshal([]byte(techStack), &d.TechStack); err != nil {
		return nil, fmt.Errorf("unmarshal tech stack: %w", err)
	}
	return &d, nil
}

func (s *SQLStore) SaveAnalysis(ctx context.Context, a *model.JobAnalysis) error {
	if err := validateAnalysis(a); err != nil {
		return fmt.Errorf("refusing to persist analysis: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save analysis: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO job_analysis (
			link_id, language, short_summary,
			cringe_score, red_flag_score, work_culture_score, stability_score,
			benefit_score, inclusivity_score, corporate_score,
			fit_score, fit_reasoning, decision, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (link_id) DO UPDATE SET
			language = excluded.language,
			short_summary = excluded.short_summary,
			cringe_score = excluded.cringe_score,
			red_flag_score = excluded.red_flag_score,
			work_culture_score = excluded.work_culture_score,
			stability_score = excluded.stability_score,
			benefit_score = excluded.benefit_score,
			inclusivity_score = excluded.inclusivity_score,
			corporate_score = excluded.corporate_score,
			fit_score = excluded.fit_score,
			fit_reasoning = excluded.fit_reasoning,
			decision = excluded.decision,
			analyzed_at = excluded.analyzed_at`),
		a.LinkID, a.Language, a.ShortSummary,
		a.CringeScore, a.RedFlagScore, a.WorkCultureScore, a.StabilityScore,
		a.BenefitScore, a.InclusivityScore, a.CorporateScore,
		a.FitScore, a.FitReasoning, a.Decision, now,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE job_links SET status = ?, analyzed_at = ? WHERE id = ?`),
		model.StatusAnalyzed, now, a.LinkID,
	)
	if err != nil {
		return fmt.Errorf("advance link to analyzed: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) AnalysisByLinkID(ctx context.Context, linkID int64) (*model.JobAnalysis, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT link_id, language, short_summary,
			cringe_score, red_flag_score, work_culture_score, stability_score,
			benefit_score, inclusivity_score, corporate_score,
			fit_score, fit_reasoning, decision, analyzed_at
		FROM job_analysis WHERE link_id = ?`), linkID)

	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*model.JobAnalysis, error) {
	var a model.JobAnalysis
	err := row.Scan(&a.LinkID, &a.Language, &a.ShortSummary,
		&a.CringeScore, &a.RedFlagScore, &a.WorkCultureScore, &a.StabilityScore,
		&a.BenefitScore, &a.InclusivityScore, &a.CorporateScore,
		&a.FitScore, &a.FitReasoning, &a.Decision, &a.AnalyzedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) AnalyzedOffers(ctx context.Context, decision model.Decision, limit int) ([]Offer, error) {
	q := `
		SELECT l.id, l.link, l.status, l.discovered_at, l.fetched_at, l.analyzed_at,
			a.language, a.short_summary,
			a.cringe_score, a.red_flag_score, a.work_culture_score, a.stability_score,
			a.benefit_score, a.inclusivity_score, a.corporate_score,
			a.fit_score, a.fit_reasoning, a.decision, a.analyzed_at
		FROM job_links l
		JOIN job_analysis a ON a.link_id = l.id`
	args := []any{}
	if decision != "" {
		q += ` WHERE a.decision = ?`
		args = append(args, decision)
	}
	q += ` ORDER BY a.fit_score DESC, l.id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query analyzed offers: %w", err)
	}

	var offers []Offer
	for rows.Next() {
		var o Offer
		var a model.JobAnalysis
		var fetched, analyzed sql.NullTime
		err := rows.Scan(&o.Link.ID, &o.Link.URL, &o.Link.Status, &o.Link.DiscoveredAt, &fetched, &analyzed,
			&a.Language, &a.ShortSummary,
			&a.CringeScore, &a.RedFlagScore, &a.WorkCultureScore, &a.StabilityScore,
			&a.BenefitScore, &a.InclusivityScore, &a.CorporateScore,
			&a.FitScore, &a.FitReasoning, &a.Decision, &a.AnalyzedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		if fetched.Valid {
			o.Link.FetchedAt = &fetched.Time
		}
		if analyzed.Valid {
			o.Link.AnalyzedAt = &analyzed.Time
		}
		a.LinkID = o.Link.ID
		o.Analysis = &a
		offers = append(offers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Details are joined after the result set is drained; nested queries on
	// an open cursor would exhaust the sqlite connection pool.
	for i := range offers {
		d, err := s.DetailByLinkID(ctx, offers[i].Link.ID)
		if err == nil {
			offers[i].Detail = d
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return offers, nil
}

func (s *SQLStore) ListTags(ctx context.Context) ([]model.TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, usage_count FROM tag_catalog ORDER BY usage_count DESC, tag`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []model.TagCount
	for rows.Next() {
		var tc model.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tc)
	}
	return tags, rows.Err()
}

func (s *SQLStore) RecordTagUse(ctx context.Context, tags []string) error {
	// The primary key on tag makes concurrent coinage of the same term
	// converge on a single row; the increment is atomic within the upsert.
	q := s.db.Rebind(`
		INSERT INTO tag_catalog (tag, usage_count) VALUES (?, 1)
		ON CONFLICT (tag) DO UPDATE SET usage_count = usage_count + 1`)
	for _, tag := range tags {
		if _, err := s.db.ExecContext(ctx, q, tag); err != nil {
			return fmt.Errorf("record tag %q: %w", tag, err)
		}
	}
	return nil
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		StatusCounts:   make(map[model.Status]int),
		DecisionCounts: make(map[model.Decision]int),
		FitByDecision:  make(map[model.Decision]FitSummary),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_links GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.StatusCounts[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT decision, COUNT(*), AVG(fit_score), MIN(fit_score), MAX(fit_score)
		FROM job_analysis GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("query decision stats: %w", err)
	}
	for rows.Next() {
		var decision model.Decision
		var fs FitSummary
		if err := rows.Scan(&decision, &fs.Count, &fs.Avg, &fs.Min, &fs.Max); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan decision stats: %w", err)
		}
		stats.DecisionCounts[decision] = fs.Count
		stats.FitByDecision[decision] = fs
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tag_catalog`).Scan(&stats.TagCount); err != nil {
		return nil, fmt.Errorf("query tag count: %w", err)
	}

	return stats, nil
}

func (s *SQLStore) Wipe(ctx context.Context, full bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wipe: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM job_analysis`,
		`DELETE FROM job_details`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
	}

	if full {
		for _, q := range []string{`DELETE FROM job_links`, `DELETE FROM tag_catalog`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("wipe: %w", err)
			}
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`UPDATE job_links SET status = 'discovered', fetched_at = NULL, analyzed_at = NULL`)
		if err != nil {
			return fmt.Errorf("reset links: %w", err)
		}
	}

	return tx.Commit()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
