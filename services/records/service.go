// Package records is the reconciliation store: it keeps the canonical
// copy of every scraped batch application and stay permit, tells the
// caller which rows are new or changed status, and remembers which
// permits have already been announced.
package records

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/lib/textutil"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/records")

type Outcome string

const (
	OutcomeInserted      Outcome = "inserted"
	OutcomeStatusChanged Outcome = "status_changed"
	OutcomeUnchanged     Outcome = "unchanged"
)

type BatchOutcome struct {
	Record  evisa.BatchRecord
	Outcome Outcome
	// status the record held before this upsert. A row that never
	// transitioned (including a fresh insert) mirrors its current
	// status here.
	LastStatus string
}

type PermitOutcome struct {
	Record     evisa.PermitRecord
	Outcome    Outcome
	LastStatus string
	// true once the permit has been announced as newly issued
	NotifiedAsNew bool
}

type Service struct {
	db *sql.DB
}

func NewService(database *sql.DB) Service {
	return Service{db: database}
}

// dedupeLast keeps only the last occurrence of each key, preserving
// the order keys first appeared in. The portal occasionally repeats a
// register number across pages; the later row wins.
func dedupeLast[T any](input []T, key func(T) string) []T {
	index := make(map[string]int, len(input))
	out := make([]T, 0, len(input))
	for _, item := range input {
		k := key(item)
		if at, ok := index[k]; ok {
			out[at] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// keyPlaceholders renders "?,?,...,?" for an IN clause plus the
// matching argument slice.
func keyPlaceholders(keys []string) (string, []any) {
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(keys)), ","), args
}

type storedBatch struct {
	status     string
	lastStatus string
	link       string
	birthDate  string
}

func lookupBatch(ctx context.Context, tx *sql.Tx, keys []string) (map[string]storedBatch, error) {
	out := make(map[string]storedBatch, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders, args := keyPlaceholders(keys)
	rows, err := tx.QueryContext(
		ctx,
		`SELECT register_number, status, last_status, artifact_link, birth_date
		FROM batch_records WHERE register_number IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var stored storedBatch
		err := rows.Scan(&key, &stored.status, &stored.lastStatus, &stored.link, &stored.birthDate)
		if err != nil {
			return nil, err
		}
		out[key] = stored
	}
	return out, rows.Err()
}

// UpsertBatch writes a scrape's batch records in one transaction and
// reports, per record, whether it was inserted, changed status, or
// stayed put. Existing rows are fetched with a single query up front
// rather than one lookup per record. A fresh insert seeds last_status
// from the incoming status; a status change copies the previous status
// into last_status before overwriting; an unchanged status leaves
// last_status alone. An empty artifact link or birth date never
// clobbers a stored one.
func (s Service) UpsertBatch(ctx context.Context, input []evisa.BatchRecord) ([]BatchOutcome, error) {
	ctx, span := tracer.Start(ctx, "UpsertBatch")
	defer span.End()

	input = dedupeLast(input, func(r evisa.BatchRecord) string { return r.RegisterNumber })
	span.SetAttributes(attribute.Int("count", len(input)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer tx.Rollback()

	keys := make([]string, len(input))
	for i, record := range input {
		keys[i] = record.RegisterNumber
	}
	existing, err := lookupBatch(ctx, tx, keys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcomes := make([]BatchOutcome, 0, len(input))
	for _, record := range input {
		current, ok := existing[record.RegisterNumber]
		if !ok {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO batch_records
					(register_number, batch_no, full_name, visa_number, passport_number,
					 payment_date, visa_type, status, last_status, artifact_link, account, birth_date)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				record.RegisterNumber, record.BatchNo, record.FullName, record.VisaNumber,
				record.PassportNumber, record.PaymentDate, record.VisaType, record.Status,
				record.Status, record.ArtifactLink, record.Account, record.BirthDate,
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			outcomes = append(outcomes, BatchOutcome{
				Record: record, Outcome: OutcomeInserted, LastStatus: record.Status,
			})
			continue
		}

		if record.ArtifactLink == "" {
			record.ArtifactLink = current.link
		}
		if record.BirthDate == "" {
			record.BirthDate = current.birthDate
		}

		outcome := BatchOutcome{Record: record, Outcome: OutcomeUnchanged, LastStatus: current.lastStatus}
		if record.Status != current.status {
			outcome.Outcome = OutcomeStatusChanged
			outcome.LastStatus = current.status
			_, err = tx.ExecContext(
				ctx,
				`UPDATE batch_records SET
					batch_no = ?, full_name = ?, visa_number = ?, passport_number = ?,
					payment_date = ?, visa_type = ?, status = ?, last_status = ?,
					artifact_link = ?, account = ?, birth_date = ?
				WHERE register_number = ?`,
				record.BatchNo, record.FullName, record.VisaNumber, record.PassportNumber,
				record.PaymentDate, record.VisaType, record.Status, current.status,
				record.ArtifactLink, record.Account, record.BirthDate,
				record.RegisterNumber,
			)
		} else {
			_, err = tx.ExecContext(
				ctx,
				`UPDATE batch_records SET
					batch_no = ?, full_name = ?, visa_number = ?, passport_number = ?,
					payment_date = ?, visa_type = ?, artifact_link = ?, account = ?, birth_date = ?
				WHERE register_number = ?`,
				record.BatchNo, record.FullName, record.VisaNumber, record.PassportNumber,
				record.PaymentDate, record.VisaType, record.ArtifactLink, record.Account,
				record.BirthDate, record.RegisterNumber,
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outcomes, nil
}

type storedPermit struct {
	status     string
	lastStatus string
	link       string
	notified   bool
}

func lookupPermits(ctx context.Context, tx *sql.Tx, keys []string) (map[string]storedPermit, error) {
	out := make(map[string]storedPermit, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders, args := keyPlaceholders(keys)
	rows, err := tx.QueryContext(
		ctx,
		`SELECT register_number, status, last_status, artifact_link, notified_as_new
		FROM permit_records WHERE register_number IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var stored storedPermit
		err := rows.Scan(&key, &stored.status, &stored.lastStatus, &stored.link, &stored.notified)
		if err != nil {
			return nil, err
		}
		out[key] = stored
	}
	return out, rows.Err()
}

// UpsertPermits mirrors UpsertBatch for stay permits. It additionally
// reports whether each permit has already been announced, which the
// notifier uses to keep new-permit events at most once.
func (s Service) UpsertPermits(ctx context.Context, input []evisa.PermitRecord) ([]PermitOutcome, error) {
	ctx, span := tracer.Start(ctx, "UpsertPermits")
	defer span.End()

	input = dedupeLast(input, func(r evisa.PermitRecord) string { return r.RegisterNumber })
	span.SetAttributes(attribute.Int("count", len(input)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer tx.Rollback()

	keys := make([]string, len(input))
	for i, record := range input {
		keys[i] = record.RegisterNumber
	}
	existing, err := lookupPermits(ctx, tx, keys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcomes := make([]PermitOutcome, 0, len(input))
	for _, record := range input {
		current, ok := existing[record.RegisterNumber]
		if !ok {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO permit_records
					(register_number, full_name, type_of_stay, visa_type, passport_number,
					 arrival_date, issue_date, expired_date, status, last_status,
					 artifact_link, account, notified_as_new)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
				record.RegisterNumber, record.FullName, record.TypeOfStay, record.VisaType,
				record.PassportNumber, record.ArrivalDate, record.IssueDate, record.ExpiredDate,
				record.Status, record.Status, record.ArtifactLink, record.Account,
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			outcomes = append(outcomes, PermitOutcome{
				Record: record, Outcome: OutcomeInserted, LastStatus: record.Status,
			})
			continue
		}

		if record.ArtifactLink == "" {
			record.ArtifactLink = current.link
		}

		outcome := PermitOutcome{
			Record:        record,
			Outcome:       OutcomeUnchanged,
			LastStatus:    current.lastStatus,
			NotifiedAsNew: current.notified,
		}
		if record.Status != current.status {
			outcome.Outcome = OutcomeStatusChanged
			outcome.LastStatus = current.status
			_, err = tx.ExecContext(
				ctx,
				`UPDATE permit_records SET
					full_name = ?, type_of_stay = ?, visa_type = ?, passport_number = ?,
					arrival_date = ?, issue_date = ?, expired_date = ?, status = ?,
					last_status = ?, artifact_link = ?, account = ?
				WHERE register_number = ?`,
				record.FullName, record.TypeOfStay, record.VisaType, record.PassportNumber,
				record.ArrivalDate, record.IssueDate, record.ExpiredDate, record.Status,
				current.status, record.ArtifactLink, record.Account,
				record.RegisterNumber,
			)
		} else {
			_, err = tx.ExecContext(
				ctx,
				`UPDATE permit_records SET
					full_name = ?, type_of_stay = ?, visa_type = ?, passport_number = ?,
					arrival_date = ?, issue_date = ?, expired_date = ?,
					artifact_link = ?, account = ?
				WHERE register_number = ?`,
				record.FullName, record.TypeOfStay, record.VisaType, record.PassportNumber,
				record.ArrivalDate, record.IssueDate, record.ExpiredDate,
				record.ArtifactLink, record.Account,
				record.RegisterNumber,
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outcomes, nil
}

// MarkPermitNotified records that a permit's new-issue announcement
// went out. The marker never reverts, so a permit is announced at most
// once across restarts.
func (s Service) MarkPermitNotified(ctx context.Context, registerNumber string) error {
	ctx, span := tracer.Start(ctx, "MarkPermitNotified")
	defer span.End()

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE permit_records SET notified_as_new = 1 WHERE register_number = ?`,
		registerNumber,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

type SearchResult struct {
	Batch   []evisa.BatchRecord
	Permits []evisa.PermitRecord
}

// searchClause matches a partial passport number, or every part of the
// query somewhere in the full name.
func searchClause(query string) (string, []any) {
	clause := `passport_number LIKE ?`
	args := []any{"%" + query + "%"}

	parts := strings.Fields(query)
	if len(parts) == 0 {
		return clause, args
	}
	nameClauses := make([]string, len(parts))
	for i, part := range parts {
		nameClauses[i] = `full_name LIKE ?`
		args = append(args, "%"+part+"%")
	}
	return clause + ` OR (` + strings.Join(nameClauses, " AND ") + `)`, args
}

func searchSimilarity(query, passport, name string) float64 {
	byPassport := matchr.JaroWinkler(query, passport, false)
	byName := matchr.JaroWinkler(query, name, false)
	if byName > byPassport {
		return byName
	}
	return byPassport
}

// SearchByPassport looks a traveler up across both record kinds. The
// query is normalized the same way stored passports are and matches
// partial passport numbers as well as name parts; results come back
// most similar first.
func (s Service) SearchByPassport(ctx context.Context, query string) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "SearchByPassport")
	defer span.End()

	query = textutil.NormalizePassport(query)
	clause, args := searchClause(query)

	var result SearchResult

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT register_number, batch_no, full_name, visa_number, passport_number,
			payment_date, visa_type, status, artifact_link, account, birth_date
		FROM batch_records WHERE `+clause,
		args...,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SearchResult{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var r evisa.BatchRecord
		err := rows.Scan(
			&r.RegisterNumber, &r.BatchNo, &r.FullName, &r.VisaNumber, &r.PassportNumber,
			&r.PaymentDate, &r.VisaType, &r.Status, &r.ArtifactLink, &r.Account, &r.BirthDate,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SearchResult{}, err
		}
		result.Batch = append(result.Batch, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SearchResult{}, err
	}

	permitRows, err := s.db.QueryContext(
		ctx,
		`SELECT register_number, full_name, type_of_stay, visa_type, passport_number,
			arrival_date, issue_date, expired_date, status, artifact_link, account
		FROM permit_records WHERE `+clause,
		args...,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SearchResult{}, err
	}
	defer permitRows.Close()
	for permitRows.Next() {
		var r evisa.PermitRecord
		err := permitRows.Scan(
			&r.RegisterNumber, &r.FullName, &r.TypeOfStay, &r.VisaType, &r.PassportNumber,
			&r.ArrivalDate, &r.IssueDate, &r.ExpiredDate, &r.Status, &r.ArtifactLink, &r.Account,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SearchResult{}, err
		}
		result.Permits = append(result.Permits, r)
	}
	if err := permitRows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SearchResult{}, err
	}

	sort.SliceStable(result.Batch, func(i, j int) bool {
		return searchSimilarity(query, result.Batch[i].PassportNumber, result.Batch[i].FullName) >
			searchSimilarity(query, result.Batch[j].PassportNumber, result.Batch[j].FullName)
	})
	sort.SliceStable(result.Permits, func(i, j int) bool {
		return searchSimilarity(query, result.Permits[i].PassportNumber, result.Permits[i].FullName) >
			searchSimilarity(query, result.Permits[j].PassportNumber, result.Permits[j].FullName)
	})

	return result, nil
}

// ListPermits returns every stored permit, used for expiry reminders.
func (s Service) ListPermits(ctx context.Context) ([]PermitOutcome, error) {
	ctx, span := tracer.Start(ctx, "ListPermits")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT register_number, full_name, type_of_stay, visa_type, passport_number,
			arrival_date, issue_date, expired_date, status, last_status,
			artifact_link, account, notified_as_new
		FROM permit_records`,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []PermitOutcome
	for rows.Next() {
		var o PermitOutcome
		err := rows.Scan(
			&o.Record.RegisterNumber, &o.Record.FullName, &o.Record.TypeOfStay,
			&o.Record.VisaType, &o.Record.PassportNumber, &o.Record.ArrivalDate,
			&o.Record.IssueDate, &o.Record.ExpiredDate, &o.Record.Status,
			&o.LastStatus, &o.Record.ArtifactLink, &o.Record.Account, &o.NotifiedAsNew,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}
