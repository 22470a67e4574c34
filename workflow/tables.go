package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 200

// transferTable moves one model's rows between the database and export files.
type transferTable interface {
	Name() string
	Count(db *gorm.DB, factoryId string) (int64, error)
	Fetch(db *gorm.DB, factoryId string) (tableRows, error)
	DecodeJSON(raw json.RawMessage) (tableRows, error)
	DecodeGrid(grid *utils.Table) (tableRows, error)
	Clear(tx *gorm.DB, factoryId string) (int64, error)
	// KeepOnReplace tables are upserted instead of cleared in replace mode.
	KeepOnReplace() bool
	// SetSequence moves the postgres id sequence past imported ids.
	SetSequence(tx *gorm.DB) error
}

type tableRows interface {
	Len() int
	JSON() interface{}
	Grid() *utils.Table
	Save(tx *gorm.DB, factoryId string) (inserted int, updated int, err error)
}

type modelTable[T any] struct {
	name          string
	order         string
	hasId         bool
	keepOnReplace bool
	// check runs on every imported row after factory_id is overwritten
	check func(row *T) error
}

func (t *modelTable[T]) Name() string        { return t.name }
func (t *modelTable[T]) KeepOnReplace() bool { return t.keepOnReplace }

func (t *modelTable[T]) Count(db *gorm.DB, factoryId string) (int64, error) {
	var count int64
	err := db.Model(new(T)).Where("factory_id = ?", factoryId).Count(&count).Error
	return count, err
}

func (t *modelTable[T]) Fetch(db *gorm.DB, factoryId string) (tableRows, error) {
	var rows []*T
	if err := db.Where("factory_id = ?", factoryId).Order(t.order).Find(&rows).Error; err != nil {
		return nil, err
	}
	return &modelRows[T]{table: t, rows: rows}, nil
}

func (t *modelTable[T]) DecodeJSON(raw json.RawMessage) (tableRows, error) {
	var rows []*T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, utils.NewFieldError("file", fmt.Sprintf("table %s: %v", t.name, err))
	}
	return &modelRows[T]{table: t, rows: rows}, nil
}

func (t *modelTable[T]) DecodeGrid(grid *utils.Table) (tableRows, error) {
	fields := jsonFields(reflect.TypeOf(new(T)).Elem())
	rows := make([]*T, 0, len(grid.Rows))
	for i, cells := range grid.Rows {
		doc := make(map[string]json.RawMessage, len(grid.Headers))
		for j, header := range grid.Headers {
			field, ok := fields[header]
			if !ok || j >= len(cells) {
				continue
			}
			value, err := cellJSON(field, utils.CellString(cells[j]))
			if err != nil {
				return nil, utils.NewFieldError("file", fmt.Sprintf("table %s row %d column %s: %v", t.name, i+2, header, err))
			}
			if value != nil {
				doc[header] = value
			}
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var row T
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, utils.NewFieldError("file", fmt.Sprintf("table %s row %d: %v", t.name, i+2, err))
		}
		rows = append(rows, &row)
	}
	return &modelRows[T]{table: t, rows: rows}, nil
}

func (t *modelTable[T]) Clear(tx *gorm.DB, factoryId string) (int64, error) {
	res := tx.Where("factory_id = ?", factoryId).Delete(new(T))
	return res.RowsAffected, res.Error
}

func (t *modelTable[T]) SetSequence(tx *gorm.DB) error {
	if !t.hasId || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
		t.name)).Error
}

type modelRows[T any] struct {
	table *modelTable[T]
	rows  []*T
}

func (r *modelRows[T]) Len() int { return len(r.rows) }

func (r *modelRows[T]) JSON() interface{} {
	if r.rows == nil {
		return []*T{}
	}
	return r.rows
}

// Grid renders every value as text so decimals and timestamps survive a round trip.
func (r *modelRows[T]) Grid() *utils.Table {
	rt := reflect.TypeOf(new(T)).Elem()
	names, indexes := jsonColumns(rt)
	grid := utils.Table{Name: r.table.name, Headers: names, Rows: make([][]interface{}, 0, len(r.rows))}
	for _, row := range r.rows {
		v := reflect.ValueOf(row).Elem()
		cells := make([]interface{}, len(indexes))
		for i, idx := range indexes {
			cells[i] = utils.CellString(v.Field(idx).Interface())
		}
		grid.Rows = append(grid.Rows, cells)
	}
	return &grid
}

// Save upserts rows by primary key after taking them over for factoryId.
// Ids owned by another factory are rejected.
func (r *modelRows[T]) Save(tx *gorm.DB, factoryId string) (int, int, error) {
	if len(r.rows) == 0 {
		return 0, 0, nil
	}
	var withId, withoutId []*T
	var ids []int
	for _, row := range r.rows {
		v := reflect.ValueOf(row).Elem()
		v.FieldByName("FactoryId").SetString(factoryId)
		if r.table.check != nil {
			if err := r.table.check(row); err != nil {
				return 0, 0, err
			}
		}
		if !r.table.hasId {
			withId = append(withId, row)
			continue
		}
		if id := int(v.FieldByName("ID").Int()); id > 0 {
			withId = append(withId, row)
			ids = append(ids, id)
		} else {
			withoutId = append(withoutId, row)
		}
	}

	updated := 0
	if r.table.hasId && len(ids) > 0 {
		var owners []struct {
			ID        int
			FactoryId string
		}
		unscoped := tx.WithContext(utils.SetSkipTenantScopeInContext(tx.Statement.Context, true))
		for start := 0; start < len(ids); start += importBatchSize {
			end := min(start+importBatchSize, len(ids))
			var batch []struct {
				ID        int
				FactoryId string
			}
			if err := unscoped.Model(new(T)).Select("id, factory_id").Where("id IN ?", ids[start:end]).Scan(&batch).Error; err != nil {
				return 0, 0, err
			}
			owners = append(owners, batch...)
		}
		for _, o := range owners {
			if o.FactoryId != factoryId {
				return 0, 0, utils.NewFieldError("file", fmt.Sprintf("table %s: id %d belongs to another factory", r.table.name, o.ID))
			}
			updated++
		}
	}

	upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
	if len(withId) > 0 {
		if err := upsert.CreateInBatches(withId, importBatchSize).Error; err != nil {
			return 0, 0, err
		}
	}
	if len(withoutId) > 0 {
		if err := tx.CreateInBatches(withoutId, importBatchSize).Error; err != nil {
			return 0, 0, err
		}
	}
	if !r.table.hasId {
		return len(r.rows), 0, nil
	}
	return len(r.rows) - updated, updated, nil
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func jsonColumns(rt reflect.Type) ([]string, []int) {
	var names []string
	var indexes []int
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if name := jsonName(f); name != "" {
			names = append(names, name)
			indexes = append(indexes, i)
		}
	}
	return names, indexes
}

func jsonFields(rt reflect.Type) map[string]reflect.Type {
	fields := map[string]reflect.Type{}
	names, indexes := jsonColumns(rt)
	for i, name := range names {
		fields[name] = rt.Field(indexes[i]).Type
	}
	return fields
}

// cellJSON converts a spreadsheet cell to the JSON token the field decodes from.
// Empty cells decode to the zero value.
func cellJSON(ft reflect.Type, text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	kind := ft.Kind()
	if kind == reflect.Ptr {
		kind = ft.Elem().Kind()
	}
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// spreadsheets may hand integers back as 12 or 12.0
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", text)
		}
		return json.RawMessage(strconv.FormatInt(int64(f), 10)), nil
	case reflect.Float32, reflect.Float64:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return nil, fmt.Errorf("%q is not a number", text)
		}
		return json.RawMessage(text), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", text)
		}
		return json.RawMessage(strconv.FormatBool(b)), nil
	}
	return json.Marshal(text)
}

func checkPermissionIds(known map[int]bool) func(*models.RolePermission) error {
	return func(row *models.RolePermission) error {
		if !known[row.PermissionId] {
			return utils.NewFieldError("file", fmt.Sprintf("role_permissions: unknown permission id %d", row.PermissionId))
		}
		return nil
	}
}

// checkUser validates imported users. Only admins may import admin users.
func checkUser(callerRole models.UserRole) func(*models.User) error {
	return func(row *models.User) error {
		if row.Username == "" {
			return utils.NewFieldError("file", "users: username is required")
		}
		if !row.Role.IsValid() {
			return utils.NewFieldError("file", fmt.Sprintf("users: invalid role %q for %s", row.Role, row.Username))
		}
		if row.Role == models.UserRoleAdmin && callerRole != models.UserRoleAdmin {
			return fmt.Errorf("users: only admins can import admin user %s: %w", row.Username, utils.ErrorForbidden)
		}
		return nil
	}
}

// privilegedTables decide who may sign in and with which permissions.
var privilegedTables = map[string]bool{"users": true, "roles": true, "role_permissions": true}

// transferTables lists the exportable tables, parents first.
// callerRole is the built-in role of whoever imports; exports pass "".
func transferTables(knownPermissions map[int]bool, callerRole models.UserRole) []transferTable {
	return []transferTable{
		&modelTable[models.Line]{name: "lines", order: "id", hasId: true},
		&modelTable[models.Style]{name: "styles", order: "id", hasId: true},
		&modelTable[models.ExpenseCategory]{name: "expense_categories", order: "id", hasId: true},
		&modelTable[models.Role]{name: "roles", order: "id", hasId: true},
		&modelTable[models.RolePermission]{name: "role_permissions", order: "role_id, permission_id", check: checkPermissionIds(knownPermissions)},
		&modelTable[models.User]{name: "users", order: "id", hasId: true, keepOnReplace: true, check: checkUser(callerRole)},
		&modelTable[models.CashbookEntry]{name: "cashbook_entries", order: "entry_date, id", hasId: true},
		&modelTable[models.Expense]{name: "expenses", order: "id", hasId: true},
		&modelTable[models.CuttingEntry]{name: "cutting_entries", order: "id", hasId: true},
		&modelTable[models.Shipment]{name: "shipments", order: "id", hasId: true},
		&modelTable[models.Target]{name: "targets", order: "id", hasId: true},
		&modelTable[models.SalaryRate]{name: "salary_rates", order: "id", hasId: true},
		&modelTable[models.PieceworkEntry]{name: "piecework_entries", order: "id", hasId: true},
	}
}

// TableNames returns the exportable table names in import order.
func TableNames() []string {
	tables := transferTables(nil, "")
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name())
	}
	return names
}

// selectTables resolves requested names, keeping import order. Empty selects every table.
func selectTables(all []transferTable, names []string) ([]transferTable, error) {
	if len(names) == 0 {
		return all, nil
	}
	wanted := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		wanted[n] = true
	}
	var selected []transferTable
	for _, t := range all {
		if wanted[t.Name()] {
			selected = append(selected, t)
			delete(wanted, t.Name())
		}
	}
	for n := range wanted {
		return nil, utils.NewFieldError("tables", "unknown table "+n)
	}
	if len(selected) == 0 {
		return nil, utils.NewFieldError("tables", "no table selected")
	}
	return selected, nil
}
