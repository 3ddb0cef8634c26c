package record

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

const defaultBatchBaseSize = 100

// optimalBatchSize picks the CASE-WHEN chunk size for n pending updates:
// small batches run as one statement, very large ones are capped so a
// single UPDATE never grows unbounded.
func optimalBatchSize(n int) int {
	switch {
	case n < 50:
		return n
	case n > 1000:
		return 500
	default:
		return defaultBatchBaseSize
	}
}

// BatchUpdateItem is one record's pending change within a BatchUpdate call.
type BatchUpdateItem struct {
	Table           types.Table
	RecordID        string
	Data            map[string]interface{}
	ExpectedVersion *int64
}

// BatchUpdateStrategy executes a set of pending updates, returning a
// result aligned 1:1 with items plus an aggregate error for the caller to
// log or propagate.
type BatchUpdateStrategy interface {
	Execute(ctx context.Context, store *Store, items []BatchUpdateItem, user string) ([]ItemResult, error)
}

// BatchUpdate is the public entry point for batched updates; a nil
// strategy defaults to BestEffortStrategy.
func (s *Store) BatchUpdate(ctx context.Context, items []BatchUpdateItem, user string, strategy BatchUpdateStrategy) ([]ItemResult, error) {
	if strategy == nil {
		strategy = BestEffortStrategy{}
	}
	return strategy.Execute(ctx, s, items, user)
}

type tableGroup struct {
	table   types.Table
	indexes []int
	items   []BatchUpdateItem
}

func groupByTable(items []BatchUpdateItem) []tableGroup {
	order := make([]string, 0)
	byTable := make(map[string]*tableGroup)
	for i, item := range items {
		g, ok := byTable[item.Table.ID]
		if !ok {
			g = &tableGroup{table: item.Table}
			byTable[item.Table.ID] = g
			order = append(order, item.Table.ID)
		}
		g.indexes = append(g.indexes, i)
		g.items = append(g.items, item)
	}
	groups := make([]tableGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byTable[id])
	}
	return groups
}

// AllOrNothingStrategy wraps every table's batch in one transaction: any
// record failing rolls the entire call back.
type AllOrNothingStrategy struct{}

func (AllOrNothingStrategy) Execute(ctx context.Context, store *Store, items []BatchUpdateItem, user string) ([]ItemResult, error) {
	results := make([]ItemResult, len(items))
	if len(items) == 0 {
		return results, nil
	}

	tx, err := store.db.BeginTx(ctx)
	if err != nil {
		dbErr := engineerr.DBError(fmt.Errorf("begin batch update transaction: %w", err))
		for i := range results {
			results[i].Err = dbErr
		}
		return results, dbErr
	}

	failed := false
	for _, group := range groupByTable(items) {
		groupResults := store.batchUpdateTable(ctx, tx, group.table, group.items, user)
		for j, r := range groupResults {
			results[group.indexes[j]] = r
			if r.Err != nil {
				failed = true
			}
		}
	}

	if failed {
		_ = tx.Rollback(ctx)
		rollbackErr := engineerr.Conflict(engineerr.CodeDBError, "batch update rolled back: one or more records failed")
		out := make([]ItemResult, len(items))
		for i := range out {
			out[i].Err = rollbackErr
		}
		return out, rollbackErr
	}
	if err := tx.Commit(ctx); err != nil {
		commitErr := engineerr.DBError(fmt.Errorf("commit batch update transaction: %w", err))
		for i := range results {
			results[i].Err = commitErr
		}
		return results, commitErr
	}
	return results, nil
}

// BestEffortStrategy runs one goroutine per table (via errgroup), each
// committing directly with no cross-table transaction: a failure on one
// table never rolls back another table's successful records.
type BestEffortStrategy struct{}

func (BestEffortStrategy) Execute(ctx context.Context, store *Store, items []BatchUpdateItem, user string) ([]ItemResult, error) {
	results := make([]ItemResult, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groupByTable(items) {
		group := group
		g.Go(func() error {
			groupResults := store.batchUpdateTable(gctx, store.db, group.table, group.items, user)
			var lastErr error
			for j, r := range groupResults {
				results[group.indexes[j]] = r
				if r.Err != nil {
					lastErr = r.Err
				}
			}
			return lastErr
		})
	}
	return results, g.Wait()
}

// batchUpdateTable runs items (all belonging to table) in optimally-sized
// CASE-WHEN chunks against exec.
func (s *Store) batchUpdateTable(ctx context.Context, exec queryExecutor, table types.Table, items []BatchUpdateItem, user string) []ItemResult {
	results := make([]ItemResult, len(items))
	if len(items) == 0 {
		return results
	}

	fields, err := s.writableFields(ctx, table)
	if err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	size := optimalBatchSize(len(items))
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunkResults := s.executeCaseWhenBatch(ctx, exec, table, fields, items[start:end], user)
		copy(results[start:end], chunkResults)
	}
	return results
}

func (s *Store) executeCaseWhenBatch(ctx context.Context, exec queryExecutor, table types.Table, fields []types.Field, chunk []BatchUpdateItem, user string) []ItemResult {
	results := make([]ItemResult, len(chunk))
	byFieldID := make(map[string]types.Field, len(fields))
	for _, f := range fields {
		byFieldID[f.ID] = f
	}

	encoded := make([]map[string]interface{}, len(chunk))
	eligible := make([]bool, len(chunk))
	for i, item := range chunk {
		enc := make(map[string]interface{}, len(item.Data))
		ok := true
		for fieldID, v := range item.Data {
			f, known := byFieldID[fieldID]
			if !known {
				continue
			}
			val, err := encodeColumnValue(f, v)
			if err != nil {
				results[i].Err = err
				ok = false
				break
			}
			enc[fieldID] = val
		}
		if ok {
			encoded[i] = enc
			eligible[i] = true
		}
	}

	q := s.schema.Dialect().QuoteIdentifier
	changedFieldIDs := make(map[string]bool)
	for i := range chunk {
		if !eligible[i] {
			continue
		}
		for fieldID := range encoded[i] {
			changedFieldIDs[fieldID] = true
		}
	}

	var args []interface{}
	idx := 1
	var setClauses []string
	for _, f := range fields {
		if !changedFieldIDs[f.ID] {
			continue
		}
		var whenParts []string
		for i, item := range chunk {
			if !eligible[i] {
				continue
			}
			val, ok := encoded[i][f.ID]
			if !ok {
				continue
			}
			args = append(args, item.RecordID, val)
			whenParts = append(whenParts, fmt.Sprintf("WHEN $%d THEN $%d", idx, idx+1))
			idx += 2
		}
		if len(whenParts) == 0 {
			continue
		}
		col := q(f.DBFieldName)
		setClauses = append(setClauses, fmt.Sprintf("%s = CASE %s %s ELSE %s END", col, q(types.ColID), strings.Join(whenParts, " "), col))
	}

	if len(setClauses) == 0 {
		// Nothing changed any known field; every eligible item is a no-op.
		for i, item := range chunk {
			if eligible[i] {
				rec, err := s.Get(ctx, table, item.RecordID)
				results[i] = ItemResult{Record: rec, Err: err}
			}
		}
		return results
	}

	setClauses = append(setClauses,
		fmt.Sprintf("%s = %s + 1", q(types.ColVersion), q(types.ColVersion)),
		fmt.Sprintf("%s = now()", q(types.ColLastModifiedTime)),
	)
	args = append(args, user)
	setClauses = append(setClauses, fmt.Sprintf("%s = $%d", q(types.ColLastModifiedBy), idx))
	idx++

	var idList []string
	var versionGuards []string
	for i, item := range chunk {
		if !eligible[i] {
			continue
		}
		args = append(args, item.RecordID)
		idPlaceholder := fmt.Sprintf("$%d", idx)
		idx++
		idList = append(idList, idPlaceholder)
		if item.ExpectedVersion != nil {
			args = append(args, *item.ExpectedVersion)
			versionGuards = append(versionGuards, fmt.Sprintf("(%s = %s AND %s = $%d)", q(types.ColID), idPlaceholder, q(types.ColVersion), idx))
			idx++
		} else {
			versionGuards = append(versionGuards, fmt.Sprintf("%s = %s", q(types.ColID), idPlaceholder))
		}
	}
	if len(idList) == 0 {
		return results
	}

	where := fmt.Sprintf("%s IN (%s) AND (%s)", q(types.ColID), strings.Join(idList, ", "), strings.Join(versionGuards, " OR "))
	sqlStr := fmt.Sprintf("UPDATE %s.%s SET %s WHERE %s RETURNING %s",
		q(table.PhysicalSchema()), q(table.PhysicalTableName()),
		strings.Join(setClauses, ", "), where, strings.Join(s.columnList(fields), ", "))

	rows, err := exec.Query(ctx, sqlStr, args...)
	if err != nil {
		dbErr := engineerr.DBError(fmt.Errorf("batch update table %s: %w", table.ID, err))
		for i := range chunk {
			if eligible[i] && results[i].Err == nil {
				results[i].Err = dbErr
			}
		}
		return results
	}
	defer rows.Close()

	updated := make(map[string]*types.Record)
	for rows.Next() {
		rec, err := scanRecordRow(rows, table.ID, fields)
		if err != nil {
			continue
		}
		updated[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		dbErr := engineerr.DBError(err)
		for i := range chunk {
			if eligible[i] && results[i].Err == nil && results[i].Record == nil {
				results[i].Err = dbErr
			}
		}
		return results
	}

	var missingIDs []string
	missingIdx := make(map[string][]int)
	for i, item := range chunk {
		if !eligible[i] {
			continue
		}
		if rec, ok := updated[item.RecordID]; ok {
			results[i].Record = rec
			continue
		}
		missingIDs = append(missingIDs, item.RecordID)
		missingIdx[item.RecordID] = append(missingIdx[item.RecordID], i)
	}
	if len(missingIDs) == 0 {
		return results
	}

	current, err := s.findVersionsByIDs(ctx, exec, table, missingIDs)
	if err != nil {
		for _, idxs := range missingIdx {
			for _, i := range idxs {
				results[i].Err = err
			}
		}
		return results
	}
	for id, idxs := range missingIdx {
		for _, i := range idxs {
			if v, ok := current[id]; ok {
				results[i].Err = engineerr.VersionConflict(v)
			} else {
				results[i].Err = engineerr.NotFound(engineerr.CodeRecordNotFound, id)
			}
		}
	}
	return results
}

func (s *Store) findVersionsByIDs(ctx context.Context, exec queryExecutor, table types.Table, ids []string) (map[string]int64, error) {
	q := s.schema.Dialect().QuoteIdentifier
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	sqlStr := fmt.Sprintf("SELECT %s, %s FROM %s.%s WHERE %s IN (%s)",
		q(types.ColID), q(types.ColVersion),
		q(table.PhysicalSchema()), q(table.PhysicalTableName()),
		q(types.ColID), strings.Join(placeholders, ", "))

	rows, err := exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("resolve record versions on table %s: %w", table.ID, err))
	}
	defer rows.Close()
	out := make(map[string]int64, len(ids))
	for rows.Next() {
		var id string
		var version int64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, engineerr.DBError(err)
		}
		out[id] = version
	}
	return out, rows.Err()
}
