package database

import (
	"github.com/DATA-DOG/go-sqlmock"
)

// newTestDataSource backs a Datasource with sqlmock so persistence paths can
// be exercised without a live postgres.
func newTestDataSource() (Datasource, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return Datasource{}, nil, err
	}
	return Datasource{Conn: db}, mock, nil
}
