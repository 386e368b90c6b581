package mysqldb

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

type Mysql struct {
	DSN  string
	DB   *sql.DB
	Name string
}

var mysqlInstances sync.Map

func GetMysql(name string) (*Mysql, error) {
	value, ok := mysqlInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Mysql not found, name:%s", name)
	}

	instance, ok := value.(*Mysql)
	if !ok {
		return nil, fmt.Errorf("Mysql not found, name:%s", name)
	}

	return instance, nil
}

func (m *Mysql) Init() error {
	db, err := sql.Open("mysql", m.DSN)
	if err != nil {
		return err
	}

	db.SetConnMaxLifetime(60 * time.Minute)
	db.SetMaxIdleConns(50)
	db.SetMaxOpenConns(100)

	m.DB = db
	return m.DB.Ping()
}

func RegisterMysql(name, dsn string) error {
	if _, ok := mysqlInstances.Load(name); ok {
		return nil
	}

	instance := &Mysql{
		Name: name,
		DSN:  dsn,
	}
	if err := instance.Init(); err != nil {
		return err
	}

	mysqlInstances.Store(name, instance)
	return nil
}
