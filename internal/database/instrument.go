package database

import (
	"time"

	"gorm.io/gorm"
)

const queryStartKey = "campusflow:query_start"

// QueryObserver 接收每条语句的操作类型与耗时
type QueryObserver func(operation string, duration time.Duration)

// Instrument 在 GORM 回调链上挂载耗时观测
func Instrument(db *gorm.DB, observe QueryObserver) error {
	if db == nil || observe == nil {
		return nil
	}

	before := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(queryStartKey)
			if !ok {
				return
			}
			if start, ok := v.(time.Time); ok {
				observe(operation, time.Since(start))
			}
		}
	}

	cb := db.Callback()
	steps := []struct {
		op       string
		register func(name string, before, after func(*gorm.DB)) error
	}{
		{"create", func(name string, b, a func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register(name+":before", b); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register(name+":after", a)
		}},
		{"query", func(name string, b, a func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register(name+":before", b); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register(name+":after", a)
		}},
		{"update", func(name string, b, a func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register(name+":before", b); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register(name+":after", a)
		}},
		{"delete", func(name string, b, a func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register(name+":before", b); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register(name+":after", a)
		}},
	}
	for _, s := range steps {
		if err := s.register("campusflow:"+s.op, before, after(s.op)); err != nil {
			return err
		}
	}
	return nil
}
