package postgres

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

func init() {
	sql.Register("fs-postgres", &PostgresDriver{})
}

// PostgresDriver wraps lib/pq to cap statement time on every connection, so
// one slow offline scan cannot hold a pooled connection forever.
type PostgresDriver struct {
	driver pq.Driver
}

func (d PostgresDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.driver.Open(name)
	if err != nil {
		return nil, err
	}

	if stmt, err := conn.Prepare("set statement_timeout = 2000"); err == nil {
		stmt.Exec(nil)
		stmt.Close()
	}
	return conn, err
}

type Postgres struct {
	DSN  string
	DB   *sql.DB
	Name string
}

var postgresInstances sync.Map

func GetPostgres(name string) (*Postgres, error) {
	value, ok := postgresInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Postgres not found, name:%s", name)
	}

	instance, ok := value.(*Postgres)
	if !ok {
		return nil, fmt.Errorf("Postgres not found, name:%s", name)
	}

	return instance, nil
}

func (m *Postgres) Init() error {
	db, err := sql.Open("fs-postgres", m.DSN)
	if err != nil {
		return err
	}

	db.SetConnMaxLifetime(60 * time.Minute)
	db.SetMaxIdleConns(50)
	db.SetMaxOpenConns(100)

	m.DB = db
	return m.DB.Ping()
}

func RegisterPostgres(name, dsn string) error {
	if _, ok := postgresInstances.Load(name); ok {
		return nil
	}

	instance := &Postgres{
		Name: name,
		DSN:  dsn,
	}
	if err := instance.Init(); err != nil {
		return err
	}

	postgresInstances.Store(name, instance)
	return nil
}
