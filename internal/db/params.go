package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

// WriteParams replaces the stored bootstrap parameters with params and
// rebuilds the hardware inventory from their hw_inventory entries. It runs
// in one transaction so readers never see a partial configuration.
func (db *DB) WriteParams(ctx context.Context, params []registry.Param) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM config_params`); err != nil {
		return fmt.Errorf("failed to clear config params: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hw_adapters`); err != nil {
		return fmt.Errorf("failed to clear hw inventory: %w", err)
	}

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO config_params (scope, idx, field, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	adapters := map[int]*registry.HWConfig{}
	var order []int
	for _, p := range params {
		if _, err := ins.ExecContext(ctx, p.Scope, p.Index, p.Field, p.Value); err != nil {
			return fmt.Errorf("failed to write %s[%d].%s: %w", p.Scope, p.Index, p.Field, err)
		}
		if p.Scope != registry.ScopeAdapter {
			continue
		}
		a, ok := adapters[p.Index]
		if !ok {
			a = &registry.HWConfig{Index: p.Index}
			adapters[p.Index] = a
			order = append(order, p.Index)
		}
		if err := setAdapterField(a, p.Field, p.Value); err != nil {
			return err
		}
	}

	for _, idx := range order {
		a := adapters[idx]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hw_adapters (idx, hw_dev_id, hw_iface_name, hw_type, baudrate, port) VALUES (?, ?, ?, ?, ?, ?)`,
			a.Index, a.HWDevID, a.IfaceName, a.Type, a.BaudRate, a.Port); err != nil {
			return fmt.Errorf("failed to write adapter %d: %w", a.Index, err)
		}
	}
	return tx.Commit()
}

func setAdapterField(a *registry.HWConfig, field, value string) error {
	num := func() (uint32, error) {
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("adapter %d %s: %w", a.Index, field, err)
		}
		return uint32(v), nil
	}
	var err error
	switch field {
	case "hw_dev_id":
		a.HWDevID, err = num()
	case "hw_iface_name":
		a.IfaceName = value
	case "hw_type":
		a.Type = value
	case "baudrate":
		a.BaudRate, err = num()
	case "port":
		a.Port, err = num()
	}
	return err
}

// Params returns the stored bootstrap parameters, master scope first.
func (db *DB) Params(ctx context.Context) ([]registry.Param, error) {
	rows, err := db.QueryContext(ctx, `SELECT scope, idx, field, value FROM config_params
		ORDER BY CASE scope WHEN 'master' THEN 0 WHEN 'hw_inventory' THEN 1 ELSE 2 END, idx, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query config params: %w", err)
	}
	defer rows.Close()

	var out []registry.Param
	for rows.Next() {
		var p registry.Param
		if err := rows.Scan(&p.Scope, &p.Index, &p.Field, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan config param: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MasterClientID returns the stored master client id.
func (db *DB) MasterClientID(ctx context.Context) (uint32, error) {
	var v string
	err := db.QueryRowContext(ctx,
		`SELECT value FROM config_params WHERE scope = ? AND field = 'client_id'`, registry.ScopeMaster).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no bootstrap parameters written")
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("master client id %q: %w", v, err)
	}
	return uint32(id), nil
}

// RoutingTable returns the stored routing table, one row per sensor.
func (db *DB) RoutingTable(ctx context.Context) ([]registry.Route, error) {
	params, err := db.Params(ctx)
	if err != nil {
		return nil, err
	}
	return registry.RoutingTable(params), nil
}

// HardwareInventory returns the stored adapters in slot order.
func (db *DB) HardwareInventory(ctx context.Context) ([]registry.HWConfig, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT idx, hw_dev_id, hw_iface_name, hw_type, baudrate, port FROM hw_adapters ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hw inventory: %w", err)
	}
	defer rows.Close()

	var out []registry.HWConfig
	for rows.Next() {
		var a registry.HWConfig
		if err := rows.Scan(&a.Index, &a.HWDevID, &a.IfaceName, &a.Type, &a.BaudRate, &a.Port); err != nil {
			return nil, fmt.Errorf("failed to scan adapter: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
