package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	connectAttempts = 30
	connectDelay    = 2 * time.Second
)

// Connect establishes a connection to PostgreSQL with retries.
func Connect(databaseURL string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	log := logrus.WithField("component", "postgres")
	for i := 0; i < connectAttempts; i++ {
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			log.WithError(err).Warnf("open database failed, retrying in %s", connectDelay)
			time.Sleep(connectDelay)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			log.Info("connected to PostgreSQL")
			return db, nil
		}

		db.Close()
		log.WithError(err).Warnf("ping database failed, retrying in %s", connectDelay)
		time.Sleep(connectDelay)
	}

	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", connectAttempts, err)
}
